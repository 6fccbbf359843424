// Package config loads the translator configuration using viper.
package config

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/xlat/internal/addrmap"
	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/log"
	"firestige.xyz/xlat/internal/pipeline"
	"firestige.xyz/xlat/internal/translator"
)

// Config is the top-level configuration, under the `xlat:` root key in
// YAML. Environment variables use the XLAT_ prefix (XLAT_LOG_LEVEL).
type Config struct {
	Translator TranslatorConfig `mapstructure:"translator" yaml:"translator"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Input      EndpointConfig   `mapstructure:"input" yaml:"input"`
	Output     EndpointConfig   `mapstructure:"output" yaml:"output"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log        log.Config       `mapstructure:"log" yaml:"log"`
}

// ─── Translator ───

// TranslatorConfig selects the address mapping and per-packet options.
type TranslatorConfig struct {
	Prefix         netip.Prefix `mapstructure:"prefix" yaml:"prefix"` // RFC 6052 prefix, empty = EAM only
	EAM            []EAMConfig  `mapstructure:"eam" yaml:"eam,omitempty"`
	DecrementTTL   bool         `mapstructure:"decrement_ttl" yaml:"decrement_ttl"`
	AllowFragments bool         `mapstructure:"allow_fragments" yaml:"allow_fragments"`
}

// EAMConfig is one explicit address mapping entry.
type EAMConfig struct {
	IPv4 netip.Prefix `mapstructure:"ipv4" yaml:"ipv4"`
	IPv6 netip.Prefix `mapstructure:"ipv6" yaml:"ipv6"`
}

// Mapper builds the address mapper described by the configuration.
func (tc TranslatorConfig) Mapper() (*addrmap.Mapper, error) {
	var prefix addrmap.Prefix
	if tc.Prefix.IsValid() {
		p, err := addrmap.NewPrefix(tc.Prefix)
		if err != nil {
			return nil, err
		}
		prefix = p
	}
	eams := make([]addrmap.EAM, len(tc.EAM))
	for i, e := range tc.EAM {
		eams[i] = addrmap.EAM{IPv4: e.IPv4, IPv6: e.IPv6}
	}
	return addrmap.New(prefix, eams)
}

// Options returns the translator options.
func (tc TranslatorConfig) Options() translator.Options {
	return translator.Options{
		DecrementTTL:   tc.DecrementTTL,
		AllowFragments: tc.AllowFragments,
	}
}

// ─── Pipeline ───

// PipelineConfig sizes the batch-parallel pipeline.
type PipelineConfig struct {
	Workers   int           `mapstructure:"workers" yaml:"workers"` // 0 = GOMAXPROCS
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
	Headroom  int           `mapstructure:"headroom" yaml:"headroom"`
	DropLog   DropLogConfig `mapstructure:"drop_log" yaml:"drop_log"`
}

// DropLogConfig rate-limits drop logging per reason. -1 logs every drop.
type DropLogConfig struct {
	MaxPerReason int           `mapstructure:"max_per_reason" yaml:"max_per_reason"`
	Window       time.Duration `mapstructure:"window" yaml:"window"`
}

// Limiter returns the pipeline limiter configuration.
func (d DropLogConfig) Limiter() pipeline.DropLogLimiterConfig {
	return pipeline.DropLogLimiterConfig{MaxPerReason: d.MaxPerReason, Window: d.Window}
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Validation ───

// Validate checks the configuration. Endpoints are checked only when set,
// since the CLI may supply them as flags.
func (cfg *Config) Validate() error {
	if _, err := cfg.Translator.Mapper(); err != nil {
		return err
	}

	p := cfg.Pipeline
	switch {
	case p.Workers < 0:
		return fmt.Errorf("%w: pipeline.workers must not be negative", core.ErrConfigInvalid)
	case p.BatchSize < 1:
		return fmt.Errorf("%w: pipeline.batch_size must be positive", core.ErrConfigInvalid)
	case p.Headroom < 20:
		return fmt.Errorf("%w: pipeline.headroom must be at least 20", core.ErrConfigInvalid)
	case p.DropLog.MaxPerReason < -1:
		return fmt.Errorf("%w: pipeline.drop_log.max_per_reason must be -1 or more", core.ErrConfigInvalid)
	}

	if cfg.Log.Format != "pattern" && cfg.Log.Format != "json" {
		return fmt.Errorf("%w: invalid log format %q (must be pattern/json)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level %q", core.ErrConfigInvalid, cfg.Log.Level)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}

	if !cfg.Input.IsZero() {
		if err := cfg.Input.Validate("input"); err != nil {
			return err
		}
	}
	if !cfg.Output.IsZero() {
		if err := cfg.Output.Validate("output"); err != nil {
			return err
		}
	}
	return nil
}
