//go:build !linux

package afpacket

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/xlat/internal/core"
)

type Handle struct{}

func Open(cfg Config) (*Handle, error) {
	return nil, ErrUnsupported
}

func (h *Handle) ReadPacket() (core.RawPacket, error)       { return core.RawPacket{}, ErrUnsupported }
func (h *Handle) LinkType() layers.LinkType                 { return layers.LinkTypeEthernet }
func (h *Handle) WritePacket(p core.TranslatedPacket) error { return ErrUnsupported }
func (h *Handle) Close() error                              { return nil }
