package config

import (
	"fmt"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/source/afpacket"
	"firestige.xyz/xlat/internal/source/file"
)

// EndpointConfig describes where frames are read from or written to.
type EndpointConfig struct {
	Type     string          `mapstructure:"type" yaml:"type,omitempty"` // file / afpacket
	Path     string          `mapstructure:"path" yaml:"path,omitempty"`
	Format   string          `mapstructure:"format" yaml:"format,omitempty"` // pcap / pcapng, output only
	AfPacket afpacket.Config `mapstructure:"afpacket" yaml:"afpacket,omitempty"`
}

func (e EndpointConfig) IsZero() bool {
	return e.Type == "" && e.Path == "" && e.AfPacket.Device == ""
}

// FileFormat returns the configured format, or the one implied by Path.
func (e EndpointConfig) FileFormat() file.Format {
	if e.Format != "" {
		return file.Format(e.Format)
	}
	return file.FormatFromPath(e.Path)
}

// Validate checks the endpoint and fills in its type.
func (e *EndpointConfig) Validate(name string) error {
	if e.Type == "" {
		e.Type = file.Name
		if e.AfPacket.Device != "" {
			e.Type = afpacket.Name
		}
	}
	switch e.Type {
	case file.Name:
		if e.Path == "" {
			return fmt.Errorf("%w: %s.path is required for type file", core.ErrConfigInvalid, name)
		}
		switch f := e.FileFormat(); f {
		case file.FormatPcap, file.FormatPcapNG:
		default:
			return fmt.Errorf("%w: %s.format %q (must be pcap/pcapng)", core.ErrConfigInvalid, name, f)
		}
	case afpacket.Name:
		if e.AfPacket.Device == "" {
			return fmt.Errorf("%w: %s.afpacket.device is required for type afpacket", core.ErrConfigInvalid, name)
		}
	default:
		return fmt.Errorf("%w: unsupported %s.type %q (must be file/afpacket)", core.ErrConfigInvalid, name, e.Type)
	}
	return nil
}
