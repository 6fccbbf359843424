package decoder

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"firestige.xyz/xlat/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	sllHeaderLen      = 16

	// EtherType values
	etherTypeIPv4 = uint16(layers.EthernetTypeIPv4)
	etherTypeIPv6 = uint16(layers.EthernetTypeIPv6)
	etherTypeVLAN = uint16(layers.EthernetTypeDot1Q)
	etherTypeQinQ = uint16(layers.EthernetTypeQinQ)
)

// ethernetHeader is the decoded link header of an Ethernet frame.
type ethernetHeader struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16   // innermost EtherType
	VLANs     []uint16 // outermost first
}

// decodeEthernet decodes an Ethernet frame header including VLAN tags.
// It returns the header, the offset of the innermost EtherType field and
// the offset of the payload.
func decodeEthernet(data []byte) (ethernetHeader, int, int, error) {
	if len(data) < ethernetHeaderLen {
		return ethernetHeader{}, 0, 0, core.ErrPacketTooShort
	}

	eth := ethernetHeader{}

	// Destination MAC (6 bytes)
	copy(eth.DstMAC[:], data[0:6])

	// Source MAC (6 bytes)
	copy(eth.SrcMAC[:], data[6:12])

	// EtherType (2 bytes)
	typeOff := 12
	etherType := binary.BigEndian.Uint16(data[typeOff:])
	offset := ethernetHeaderLen

	// VLAN tags, possibly stacked (QinQ)
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return eth, 0, 0, core.ErrPacketTooShort
		}

		// VLAN header: 2 bytes TCI + 2 bytes EtherType
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		eth.VLANs = append(eth.VLANs, tci&0x0FFF)

		typeOff = offset + 2
		etherType = binary.BigEndian.Uint16(data[typeOff:])
		offset += vlanHeaderLen
	}

	eth.EtherType = etherType
	return eth, typeOff, offset, nil
}

// decodeSLL decodes a Linux cooked capture header. The protocol field
// holds an EtherType.
func decodeSLL(data []byte) (uint16, int, int, error) {
	if len(data) < sllHeaderLen {
		return 0, 0, 0, core.ErrPacketTooShort
	}
	return binary.BigEndian.Uint16(data[14:16]), 14, sllHeaderLen, nil
}
