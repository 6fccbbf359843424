package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/xlat/internal/config"
)

var validatePrint bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate the configuration without translating anything.
Defaults and XLAT_* environment overrides are applied first.

Examples:
  xlat validate -c xlat.yml
  xlat validate -c xlat.yml --print     # show the effective configuration`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validatePrint, cmd.OutOrStdout())
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "print the effective configuration as YAML")
}

func runValidate(path string, print bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	prefix := "none"
	if cfg.Translator.Prefix.IsValid() {
		prefix = cfg.Translator.Prefix.String()
	}
	fmt.Fprintf(out, "VALID: prefix %s, %d explicit mapping(s)\n", prefix, len(cfg.Translator.EAM))

	if print {
		data, err := config.Render(cfg)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	return nil
}
