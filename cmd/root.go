// Package cmd implements the xlat command line using cobra.
package cmd

import (
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X firestige.xyz/xlat/cmd.version=...".
var version = "0.1.0"

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xlat",
	Short: "xlat - stateless IPv4/IPv6 packet translator",
	Long: `xlat translates packets between IPv4 and IPv6 without keeping per-flow
state (SIIT, RFC 7915). Addresses are mapped with an RFC 6052 prefix and an
optional explicit address mapping table (RFC 7757). ICMP errors are translated
together with the packet they quote.

Frames are read from a pcap/pcapng file or an AF_PACKET interface and written
to a capture file or another interface.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and XLAT_* environment when empty)")

	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
