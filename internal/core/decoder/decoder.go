// Package decoder locates the IP packet inside captured link-layer frames
// and re-frames translated packets.
package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket/layers"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/protocols"
)

// Frame describes where the IP packet sits in a link-layer frame.
type Frame struct {
	Link      layers.LinkType
	L3Off     int      // offset of the IP header
	TypeOff   int      // offset of the EtherType to rewrite, -1 when none
	EtherType uint16   // 0 for raw links
	VLANs     []uint16 // Ethernet only
}

// Decode locates the IP header in a frame of the given link type. Frames
// not carrying IPv4 or IPv6 fail with core.ErrUnsupportedProto.
func Decode(link layers.LinkType, data []byte) (Frame, error) {
	f := Frame{Link: link, TypeOff: -1}
	switch link {
	case layers.LinkTypeEthernet:
		eth, typeOff, off, err := decodeEthernet(data)
		if err != nil {
			return f, err
		}
		f.L3Off, f.TypeOff, f.EtherType, f.VLANs = off, typeOff, eth.EtherType, eth.VLANs
	case layers.LinkTypeLinuxSLL:
		etherType, typeOff, off, err := decodeSLL(data)
		if err != nil {
			return f, err
		}
		f.L3Off, f.TypeOff, f.EtherType = off, typeOff, etherType
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		if len(data) == 0 {
			return f, core.ErrPacketTooShort
		}
		return f, nil
	default:
		return f, fmt.Errorf("%w: link type %s", core.ErrUnsupportedProto, link)
	}

	if f.EtherType != etherTypeIPv4 && f.EtherType != etherTypeIPv6 {
		return f, fmt.Errorf("%w: ethertype 0x%04x", core.ErrUnsupportedProto, f.EtherType)
	}
	if f.L3Off >= len(data) {
		return f, core.ErrPacketTooShort
	}
	return f, nil
}

// Header returns the link header of data, up to the IP header.
func (f Frame) Header(data []byte) []byte {
	return data[:f.L3Off]
}

// Wrap puts the link header hdr in front of the translated packet at
// buf[start:] and sets the EtherType for version v. The header is written
// into buf when start leaves room for it; otherwise a new buffer is
// allocated. hdr must not alias buf.
func (f Frame) Wrap(buf []byte, start int, hdr []byte, v protocols.Version) []byte {
	var out []byte
	if start >= len(hdr) {
		out = buf[start-len(hdr):]
	} else {
		out = make([]byte, len(hdr)+len(buf)-start)
		copy(out[len(hdr):], buf[start:])
	}
	copy(out, hdr)

	if f.TypeOff >= 0 {
		binary.BigEndian.PutUint16(out[f.TypeOff:], EtherType(v))
	}
	return out
}

// EtherType returns the EtherType of IP version v.
func EtherType(v protocols.Version) uint16 {
	if v == protocols.IPv6 {
		return etherTypeIPv6
	}
	return etherTypeIPv4
}

// OutputLink returns the link type of translated frames. Single-family raw
// links become LinkTypeRaw.
func OutputLink(link layers.LinkType) layers.LinkType {
	switch link {
	case layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return layers.LinkTypeRaw
	}
	return link
}
