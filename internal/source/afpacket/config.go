// Package afpacket captures and transmits frames on a Linux interface
// through an AF_PACKET TPACKET_V3 ring.
package afpacket

import (
	"errors"
	"fmt"
	"time"
)

const Name = "afpacket"

// Config selects the capture interface and sizes its ring.
type Config struct {
	Device       string        `mapstructure:"device" yaml:"device"`
	SnapLen      int           `mapstructure:"snap_len" yaml:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	FanoutID     uint16        `mapstructure:"fanout_id" yaml:"fanout_id,omitempty"`
}

// ErrUnsupported is returned on platforms without AF_PACKET.
var ErrUnsupported = errors.New("afpacket: not supported on this platform")

func (c *Config) setDefaults() {
	if c.SnapLen <= 0 {
		c.SnapLen = 65535
	}
	if c.BufferSizeMB <= 0 {
		c.BufferSizeMB = 8
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
}

func (c Config) validate() error {
	if c.Device == "" {
		return fmt.Errorf("afpacket: device is required")
	}
	return nil
}
