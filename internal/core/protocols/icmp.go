package protocols

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/xlat/internal/core/checksum"
)

// L4 is the transport view of a packet: *TCP, *UDP, *ICMPEcho, *ICMPError
// or *Raw. Callers dispatch with a type switch.
type L4 interface {
	// Offset returns the position of the transport header in the buffer.
	Offset() int
	isL4()
}

func (*TCP) isL4()       {}
func (*UDP) isL4()       {}
func (*ICMPEcho) isL4()  {}
func (*ICMPError) isL4() {}
func (*Raw) isL4()       {}

func isEchoType(v Version, typ uint8) bool {
	if v == IPv4 {
		return typ == layers.ICMPv4TypeEchoRequest || typ == layers.ICMPv4TypeEchoReply
	}
	return typ == layers.ICMPv6TypeEchoRequest || typ == layers.ICMPv6TypeEchoReply
}

func isErrorType(v Version, typ uint8) bool {
	if v == IPv4 {
		switch typ {
		case layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4TypeTimeExceeded,
			layers.ICMPv4TypeParameterProblem:
			return true
		}
		return false
	}
	switch typ {
	case layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6TypePacketTooBig,
		layers.ICMPv6TypeTimeExceeded, layers.ICMPv6TypeParameterProblem:
		return true
	}
	return false
}

// ICMPEcho is a view over an ICMP or ICMPv6 echo request or reply.
type ICMPEcho struct {
	bytes   []byte
	off     int
	typ     uint8
	code    uint8
	newTyp  uint8
	newCode uint8
	id      uint16
	origID  uint16
}

// Parse binds e to the message at b[off].
func (e *ICMPEcho) Parse(b []byte, off int) *ICMPEcho {
	*e = ICMPEcho{bytes: b, off: off}
	e.typ, e.code = b[off], b[off+1]
	e.newTyp, e.newCode = e.typ, e.code
	e.id = getU16(b, off+4)
	e.origID = e.id
	return e
}

// Type returns the message type, the translated one once a conversion is
// pending.
func (e *ICMPEcho) Type() uint8 { return e.newTyp }

// Code returns the message code.
func (e *ICMPEcho) Code() uint8 { return e.newCode }

// Identifier returns the echo identifier.
func (e *ICMPEcho) Identifier() uint16 { return e.id }

// SetIdentifier writes the echo identifier into the buffer. The checksum is
// corrected on commit.
func (e *ICMPEcho) SetIdentifier(id uint16) {
	e.id = id
	setU16(e.bytes, e.off+4, id)
}

// Sequence returns the echo sequence number.
func (e *ICMPEcho) Sequence() uint16 { return getU16(e.bytes, e.off+6) }

// Checksum returns the checksum field.
func (e *ICMPEcho) Checksum() uint16 { return getU16(e.bytes, e.off+2) }

func (e *ICMPEcho) Offset() int { return e.off }

func (e *ICMPEcho) update(ip *IP) csUpdate {
	u := csUpdate{off: e.off + 2, old: e.Checksum()}
	u.changed = checksum.Delta16(typeCode(e.typ, e.code), typeCode(e.newTyp, e.newCode)) +
		int(e.id) - int(e.origID)
	u.new = checksum.Adjust(u.old, u.changed+ip.csDelta+ip.icmpPseudoDelta())
	return u
}

func (e *ICMPEcho) write() {
	e.bytes[e.off], e.bytes[e.off+1] = e.newTyp, e.newCode
}

// ICMPError is a view over an ICMP error message and the packet it quotes.
type ICMPError struct {
	bytes    []byte
	off      int
	typ      uint8
	code     uint8
	rest     [4]byte
	newTyp   uint8
	newCode  uint8
	newRest  [4]byte
	embedded *IP
}

func (e *ICMPError) bind(b []byte, off int) {
	embedded := e.embedded
	if embedded == nil {
		embedded = new(IP)
	}
	*e = ICMPError{bytes: b, off: off, embedded: embedded}
	e.typ, e.code = b[off], b[off+1]
	copy(e.rest[:], b[off+4:off+8])
	e.newTyp, e.newCode, e.newRest = e.typ, e.code, e.rest
}

func (e *ICMPError) parse(ip *IP) error {
	e.bind(ip.bytes, ip.l4Off)
	return ip.parseEmbedded(e.embedded, e.PayloadBytesOffset())
}

// Type returns the message type, the translated one once a conversion is
// pending.
func (e *ICMPError) Type() uint8 { return e.newTyp }

// Code returns the message code.
func (e *ICMPError) Code() uint8 { return e.newCode }

// RestOfHeader returns bytes 4..7 of the message: MTU, pointer or unused.
func (e *ICMPError) RestOfHeader() [4]byte { return e.newRest }

// Checksum returns the checksum field.
func (e *ICMPError) Checksum() uint16 { return getU16(e.bytes, e.off+2) }

// PayloadBytes returns the buffer holding the quoted packet.
func (e *ICMPError) PayloadBytes() []byte { return e.bytes }

// PayloadBytesOffset returns the offset of the quoted packet in
// PayloadBytes.
func (e *ICMPError) PayloadBytesOffset() int { return e.off + icmpHeaderLen }

// Embedded returns the view over the quoted packet.
func (e *ICMPError) Embedded() *IP { return e.embedded }

func (e *ICMPError) Offset() int { return e.off }

func (e *ICMPError) update(ip *IP) csUpdate {
	u := csUpdate{off: e.off + 2, old: e.Checksum()}
	u.changed = checksum.Delta16(typeCode(e.typ, e.code), typeCode(e.newTyp, e.newCode)) +
		checksum.Delta(e.rest[:], e.newRest[:])

	inner := e.embedded
	iu := inner.transportUpdate()
	u.changed += iu.changed
	if iu.off >= 0 {
		u.changed += checksum.Delta16(iu.old, iu.new)
	}
	if inner.pending {
		u.changed += int(inner.newHeaderSum()) - int(checksum.Sum(inner.bytes[inner.start:inner.l4Off], 0))
	}

	u.new = checksum.Adjust(u.old, u.changed+ip.csDelta+ip.icmpPseudoDelta())
	return u
}

func (e *ICMPError) write() {
	e.bytes[e.off], e.bytes[e.off+1] = e.newTyp, e.newCode
	copy(e.bytes[e.off+4:e.off+8], e.newRest[:])
}

func typeCode(typ, code uint8) uint16 {
	return uint16(typ)<<8 | uint16(code)
}

// Raw is a view over a transport header that is not interpreted: unknown
// protocols, non-first fragments, informational ICMP and short quotes.
type Raw struct {
	bytes []byte
	off   int
}

// Reset binds r to the payload at b[off].
func (r *Raw) Reset(b []byte, off int) *Raw {
	r.bytes, r.off = b, off
	return r
}

// Bytes returns the uninterpreted payload.
func (r *Raw) Bytes() []byte { return r.bytes[r.off:] }

func (r *Raw) Offset() int { return r.off }
