package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/xlat/internal/log"
)

const rootKey = "xlat"

// configRoot is the top-level wrapper matching the YAML structure `xlat: ...`.
type configRoot struct {
	Xlat Config `mapstructure:"xlat" yaml:"xlat"`
}

// Load loads configuration from path, or from defaults and environment
// alone when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Key "xlat.log.level" maps to env XLAT_LOG_LEVEL.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used without a config file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v.AllSettings())
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(settings map[string]interface{}) (*Config, error) {
	var root configRoot
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &root,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &root.Xlat, nil
}

// setDefaults sets default values. All keys use the "xlat." prefix to
// match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("xlat.translator.prefix", "64:ff9b::/96")
	v.SetDefault("xlat.translator.decrement_ttl", false)
	v.SetDefault("xlat.translator.allow_fragments", false)

	v.SetDefault("xlat.pipeline.workers", 0)
	v.SetDefault("xlat.pipeline.batch_size", 256)
	v.SetDefault("xlat.pipeline.headroom", 64)
	v.SetDefault("xlat.pipeline.drop_log.max_per_reason", 10)
	v.SetDefault("xlat.pipeline.drop_log.window", "10s")

	v.SetDefault("xlat.metrics.enabled", false)
	v.SetDefault("xlat.metrics.listen", ":9091")
	v.SetDefault("xlat.metrics.path", "/metrics")

	v.SetDefault("xlat.log.level", "info")
	v.SetDefault("xlat.log.format", "pattern")
	v.SetDefault("xlat.log.pattern", log.DefaultPattern)
	v.SetDefault("xlat.log.time", log.DefaultTimeLayout)
	v.SetDefault("xlat.log.caller", false)
	v.SetDefault("xlat.log.stdout", true)
	v.SetDefault("xlat.log.file.enabled", false)
	v.SetDefault("xlat.log.file.filename", "/var/log/xlat/xlat.log")
	v.SetDefault("xlat.log.file.max_size", 100)
	v.SetDefault("xlat.log.file.max_backups", 5)
	v.SetDefault("xlat.log.file.max_age", 30)
	v.SetDefault("xlat.log.file.compress", true)
}

// Render returns cfg as YAML under the root key.
func Render(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(configRoot{Xlat: *cfg}); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
