package protocols

import "encoding/binary"

// Big-endian accessors over a packet buffer. Callers bounds-check.

func getU16(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off:])
}

func setU16(b []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(b[off:], v)
}

func getU32(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off:])
}

func setU32(b []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(b[off:], v)
}
