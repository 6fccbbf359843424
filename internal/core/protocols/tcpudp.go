package protocols

import "firestige.xyz/xlat/internal/core/checksum"

const (
	tcpChecksumOffset = 16
	udpChecksumOffset = 6
)

// tcpudp is the port-bearing header shared by TCP and UDP. Port setters
// write through to the buffer immediately; the checksum is corrected on
// commit from the difference between the current ports and the ports seen
// at parse time.
type tcpudp struct {
	bytes    []byte
	off      int
	csOff    int
	srcPort  uint16
	destPort uint16
	origSum  int
}

func (t *tcpudp) reset(b []byte, off, csOff int) {
	*t = tcpudp{bytes: b, off: off, csOff: csOff}
}

func (t *tcpudp) parse() {
	t.srcPort = getU16(t.bytes, t.off)
	t.destPort = getU16(t.bytes, t.off+2)
	t.origSum = int(t.srcPort) + int(t.destPort)
}

// SrcPort returns the source port.
func (t *tcpudp) SrcPort() uint16 { return t.srcPort }

// DestPort returns the destination port.
func (t *tcpudp) DestPort() uint16 { return t.destPort }

// SetSrcPort writes the source port into the buffer.
func (t *tcpudp) SetSrcPort(port uint16) {
	t.srcPort = port
	setU16(t.bytes, t.off, port)
}

// SetDestPort writes the destination port into the buffer.
func (t *tcpudp) SetDestPort(port uint16) {
	t.destPort = port
	setU16(t.bytes, t.off+2, port)
}

// Tuple returns the source and destination ports as they appear on the wire.
func (t *tcpudp) Tuple() [4]byte {
	var tuple [4]byte
	copy(tuple[:], t.bytes[t.off:t.off+4])
	return tuple
}

// Offset returns the position of the header in the buffer.
func (t *tcpudp) Offset() int { return t.off }

// HasChecksum reports whether the checksum field is within the buffer. It
// may be missing from a truncated embedded packet.
func (t *tcpudp) HasChecksum() bool {
	return t.off+t.csOff+2 <= len(t.bytes)
}

// Checksum returns the checksum field. It panics unless HasChecksum.
func (t *tcpudp) Checksum() uint16 {
	return getU16(t.bytes, t.off+t.csOff)
}

// AdjustChecksum returns cs corrected for csDelta plus any port changes
// made since parse.
func (t *tcpudp) AdjustChecksum(cs uint16, csDelta int) uint16 {
	return checksum.Adjust(cs, csDelta+t.portDelta())
}

func (t *tcpudp) portDelta() int {
	return int(t.srcPort) + int(t.destPort) - t.origSum
}

func (t *tcpudp) update(ip *IP) csUpdate {
	u := csUpdate{off: -1, changed: t.portDelta()}
	if !t.HasChecksum() {
		return u
	}
	u.off = t.off + t.csOff
	u.old = t.Checksum()

	if t.csOff == udpChecksumOffset && u.old == 0 {
		u.new = 0
		// IPv6 forbids a zero UDP checksum; compute one when the whole
		// datagram is present.
		if ip.pending && ip.version == IPv6 && t.off+ip.l4Len <= len(t.bytes) {
			sum := checksum.PseudoHeaderSum(ip.Src(), ip.Dst(), ProtoUDP, ip.l4Len)
			u.new = nonZero(checksum.Checksum(t.bytes[t.off:t.off+ip.l4Len], sum))
		}
		return u
	}

	u.new = t.AdjustChecksum(u.old, ip.csDelta)
	if t.csOff == udpChecksumOffset {
		u.new = nonZero(u.new)
	}
	return u
}

// nonZero maps a computed UDP checksum of zero to its ones'-complement
// equivalent, zero meaning no checksum.
func nonZero(cs uint16) uint16 {
	if cs == 0 {
		return 0xffff
	}
	return cs
}

// TCP is a view over a TCP header.
type TCP struct {
	tcpudp
}

// Reset binds t to the header at b[off] without reading it.
func (t *TCP) Reset(b []byte, off int) *TCP {
	t.reset(b, off, tcpChecksumOffset)
	return t
}

// Parse binds t to the header at b[off] and reads the ports.
func (t *TCP) Parse(b []byte, off int) *TCP {
	t.Reset(b, off)
	t.parse()
	return t
}

// UDP is a view over a UDP header.
type UDP struct {
	tcpudp
}

// Reset binds u to the header at b[off] without reading it.
func (u *UDP) Reset(b []byte, off int) *UDP {
	u.reset(b, off, udpChecksumOffset)
	return u
}

// Parse binds u to the header at b[off] and reads the ports.
func (u *UDP) Parse(b []byte, off int) *UDP {
	u.Reset(b, off)
	u.parse()
	return u
}
