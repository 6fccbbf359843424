package protocols

import (
	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/checksum"
)

// csUpdate is the checksum write a commit performs for one transport
// header.
type csUpdate struct {
	off     int // absolute offset of the checksum field, -1 when absent
	old     uint16
	new     uint16
	changed int // change of the transport bytes other than the checksum
}

func (ip *IP) transportUpdate() csUpdate {
	switch l4 := ip.l4.(type) {
	case *TCP:
		return l4.update(ip)
	case *UDP:
		return l4.update(ip)
	case *ICMPEcho:
		return l4.update(ip)
	case *ICMPError:
		return l4.update(ip)
	case *Raw:
		return csUpdate{off: -1}
	}
	return csUpdate{off: -1}
}

// PendingChecksum returns the transport checksum ApplyChanges would write.
// ok is false when the packet carries no checksum in the buffer.
func (ip *IP) PendingChecksum() (cs uint16, ok bool) {
	if ip.l4 == nil {
		return 0, false
	}
	u := ip.transportUpdate()
	if u.off < 0 {
		return 0, false
	}
	return u.new, true
}

// ApplyChanges writes all staged changes into the buffer: transport
// checksums, translated ICMP headers, the new IP headers of the packet and
// of a quoted packet. When the headers change size the packet moves within
// the buffer, using headroom before Start when it grows; if neither the
// headroom nor spare capacity suffice a new buffer is allocated. Views are
// rebound to the result, so Bytes must be re-read afterwards.
//
// ApplyChanges without a pending conversion only folds port and identifier
// changes into the checksums.
func (ip *IP) ApplyChanges() error {
	if ip.l4 == nil {
		return core.ErrMalformedHeader
	}
	inner := ip.embeddedPacket()
	if inner != nil && inner.pending && !ip.pending {
		return core.ErrConversionPending
	}

	u := ip.transportUpdate()
	if inner != nil {
		inner.writeTransport(inner.transportUpdate())
		inner.writeHeaderChecksum()
	}
	ip.writeTransport(u)
	ip.writeHeaderChecksum()

	if ip.pending {
		ip.relocate(inner)
	} else {
		ip.rebind()
	}
	return nil
}

func (ip *IP) writeTransport(u csUpdate) {
	switch l4 := ip.l4.(type) {
	case *ICMPEcho:
		l4.write()
	case *ICMPError:
		l4.write()
	}
	if u.off >= 0 {
		setU16(ip.bytes, u.off, u.new)
	}
}

func (ip *IP) writeHeaderChecksum() {
	if !ip.pending || ip.version != IPv4 {
		return
	}
	h := ip.newHeader
	setU16(h, 10, 0)
	setU16(h, 10, checksum.Checksum(h, 0))
}

// relocate lays out the new headers. The packet becomes
//
//	new header | ICMP header | new quoted header | quoted transport onward
//
// where the last region never moves unless the buffer has to grow.
func (ip *IP) relocate(inner *IP) {
	b := ip.bytes
	h0 := ip.newHeader
	var h1 []byte
	tailStart, mid := ip.l4Off, 0
	if inner != nil {
		h1 = inner.newHeader
		tailStart = inner.l4Off
		mid = inner.start - ip.l4Off
	}
	prefix := len(h0) + mid + len(h1)

	var (
		nb       []byte
		newStart int
		tailPos  = tailStart
	)
	switch grow := prefix - tailStart; {
	case grow <= 0:
		nb = b
		newStart = -grow
	case cap(b)-len(b) >= grow:
		nb = b[:len(b)+grow]
		copy(nb[prefix:], b[tailStart:])
		tailPos = prefix
	default:
		nb = make([]byte, len(b)+grow)
		copy(nb[prefix:], b[tailStart:])
		tailPos = prefix
	}
	copy(nb[newStart+len(h0):], b[ip.l4Off:ip.l4Off+mid])
	copy(nb[newStart+len(h0)+mid:], h1)
	copy(nb[newStart:], h0)

	if inner != nil {
		innerEnd := len(inner.bytes) + tailPos - tailStart
		inner.bytes = nb[:innerEnd]
		inner.start = newStart + len(h0) + mid
		inner.l4Off = inner.start + len(h1)
		inner.commitHeader()
	}
	ip.bytes = nb
	ip.start = newStart
	ip.l4Off = newStart + len(h0)
	ip.commitHeader()
	ip.rebind()
}

// commitHeader makes the converted header current.
func (ip *IP) commitHeader() {
	ip.l4Len = ip.newL4Len
	ip.pending = false
	ip.newHeader = nil
	ip.newL4Len = 0
	ip.csDelta = 0
}

// rebind re-reads the transport views from the committed buffer.
func (ip *IP) rebind() {
	switch l4 := ip.l4.(type) {
	case *TCP:
		l4.Parse(ip.bytes, ip.l4Off)
	case *UDP:
		l4.Parse(ip.bytes, ip.l4Off)
	case *ICMPEcho:
		l4.Parse(ip.bytes, ip.l4Off)
	case *ICMPError:
		l4.bind(ip.bytes, ip.l4Off)
		l4.embedded.rebind()
	case *Raw:
		l4.Reset(ip.bytes, ip.l4Off)
	}
}
