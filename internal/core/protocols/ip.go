// Package protocols implements zero-copy views over IPv4/IPv6 packets and
// their in-place translation between the two families.
//
// An IP view is bound to a caller-owned buffer with Reset. It classifies the
// transport header into one of the L4 variants (TCP, UDP, ICMPEcho,
// ICMPError, Raw), accepts field mutations and a version conversion, and
// materialises everything into the buffer with ApplyChanges. Transport
// checksums are maintained incrementally throughout.
//
// Views are reusable and not safe for concurrent use. An IP must not be
// copied after first use.
package protocols

import (
	"errors"
	"fmt"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/checksum"
)

// Version is an IP version number.
type Version uint8

const (
	IPv4 Version = 4
	IPv6 Version = 6
)

func (v Version) String() string {
	switch v {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("Version(%d)", uint8(v))
	}
}

// HeaderLen returns the fixed header size of v, or 0 for unknown versions.
func (v Version) HeaderLen() int {
	switch v {
	case IPv4:
		return ipv4.HeaderLen
	case IPv6:
		return ipv6.HeaderLen
	default:
		return 0
	}
}

// Other returns the opposite address family.
func (v Version) Other() Version {
	if v == IPv4 {
		return IPv6
	}
	return IPv4
}

// Transport protocol numbers.
const (
	ProtoICMPv4 = uint8(layers.IPProtocolICMPv4)
	ProtoTCP    = uint8(layers.IPProtocolTCP)
	ProtoUDP    = uint8(layers.IPProtocolUDP)
	ProtoICMPv6 = uint8(layers.IPProtocolICMPv6)
)

func icmpProto(v Version) uint8 {
	if v == IPv6 {
		return ProtoICMPv6
	}
	return ProtoICMPv4
}

const (
	// maxExtHeaders bounds the IPv6 extension header walk.
	maxExtHeaders = 8
	// maxDepth is the deepest embedded packet that is parsed.
	maxDepth = 1

	tcpMinLen      = 20
	udpLen         = 8
	icmpHeaderLen  = 8
	embeddedMinLen = 4
)

// errTooShort marks length failures so that an embedded packet can report
// them as truncation.
var errTooShort = fmt.Errorf("%w: buffer too short", core.ErrMalformedHeader)

// IP is a view over one IP packet in a caller-owned buffer.
type IP struct {
	bytes   []byte
	start   int
	version Version
	proto   uint8
	tos     uint8
	ttl     uint8
	l4Off   int
	l4Len   int // declared transport length; may exceed the bytes present when embedded
	depth   int
	frag    bool

	tcp     TCP
	udp     UDP
	echo    ICMPEcho
	icmpErr ICMPError
	raw     Raw
	l4      L4

	pending     bool
	origVersion Version
	newHeader   []byte
	newL4Len    int
	csDelta     int
}

// Parse returns a new view over the packet in b.
func Parse(b []byte) (*IP, error) {
	ip := new(IP)
	if err := ip.Reset(b, 0); err != nil {
		return nil, err
	}
	return ip, nil
}

// Reset binds ip to the packet whose IP header starts at b[off] and parses
// it, discarding all state from a previous packet. Bytes before off are
// headroom that ApplyChanges may use when a header grows.
func (ip *IP) Reset(b []byte, off int) error {
	return ip.reset(b, off, 0)
}

func (ip *IP) clear() {
	embedded := ip.icmpErr.embedded
	*ip = IP{}
	ip.icmpErr.embedded = embedded
}

func (ip *IP) reset(b []byte, off, depth int) error {
	ip.clear()
	ip.depth = depth
	if off < 0 || off >= len(b) {
		return errTooShort
	}

	var err error
	switch Version(b[off] >> 4) {
	case IPv4:
		err = ip.parseV4(b, off)
	case IPv6:
		err = ip.parseV6(b, off)
	default:
		err = fmt.Errorf("%w: ip version %d", core.ErrMalformedHeader, b[off]>>4)
	}
	if err != nil {
		return err
	}
	return ip.dispatch()
}

func (ip *IP) parseV4(b []byte, off int) error {
	if len(b)-off < ipv4.HeaderLen {
		return errTooShort
	}
	ihl := int(b[off]&0x0f) * 4
	if ihl < ipv4.HeaderLen {
		return fmt.Errorf("%w: ipv4 header length %d", core.ErrMalformedHeader, ihl)
	}
	if ihl > len(b)-off {
		return errTooShort
	}
	total := int(getU16(b, off+2))
	if total < ihl {
		return fmt.Errorf("%w: ipv4 total length %d", core.ErrMalformedHeader, total)
	}
	end, err := ip.packetEnd(b, off+total)
	if err != nil {
		return err
	}

	ip.bytes = b[:end]
	ip.start = off
	ip.version = IPv4
	ip.tos = b[off+1]
	ip.ttl = b[off+8]
	ip.proto = b[off+9]
	ip.l4Off = off + ihl
	ip.l4Len = total - ihl
	flags := getU16(b, off+6)
	ip.frag = flags&0x3fff != 0 // MF or offset
	if flags&0x1fff != 0 {
		ip.l4 = ip.raw.Reset(ip.bytes, ip.l4Off)
	}
	return nil
}

func (ip *IP) parseV6(b []byte, off int) error {
	if len(b)-off < ipv6.HeaderLen {
		return errTooShort
	}
	declaredEnd := off + ipv6.HeaderLen + int(getU16(b, off+4))
	end, err := ip.packetEnd(b, declaredEnd)
	if err != nil {
		return err
	}

	nh := b[off+6]
	pos := off + ipv6.HeaderLen
	fragment := false
	for hops := 0; isExtHeader(nh); hops++ {
		if hops == maxExtHeaders {
			return fmt.Errorf("%w: more than %d extension headers", core.ErrMalformedHeader, maxExtHeaders)
		}
		if pos+8 > end {
			return errTooShort
		}
		next := b[pos]
		switch layers.IPProtocol(nh) {
		case layers.IPProtocolIPv6Fragment:
			ip.frag = true
			fragment = getU16(b, pos+2)>>3 != 0
			pos += 8
		case layers.IPProtocolAH:
			pos += (int(b[pos+1]) + 2) * 4
		default:
			pos += (int(b[pos+1]) + 1) * 8
		}
		nh = next
	}
	if pos > end || pos > declaredEnd {
		return errTooShort
	}

	ip.bytes = b[:end]
	ip.start = off
	ip.version = IPv6
	ip.tos = uint8(getU16(b, off) >> 4)
	ip.ttl = b[off+7]
	ip.proto = nh
	ip.l4Off = pos
	ip.l4Len = declaredEnd - pos
	if fragment {
		ip.l4 = ip.raw.Reset(ip.bytes, ip.l4Off)
	}
	return nil
}

func isExtHeader(nh uint8) bool {
	switch layers.IPProtocol(nh) {
	case layers.IPProtocolIPv6HopByHop, layers.IPProtocolIPv6Routing,
		layers.IPProtocolIPv6Fragment, layers.IPProtocolIPv6Destination,
		layers.IPProtocolAH:
		return true
	}
	return false
}

// packetEnd trims link padding beyond the declared length. Only an embedded
// packet may be shorter than it declares.
func (ip *IP) packetEnd(b []byte, declaredEnd int) (int, error) {
	if declaredEnd <= len(b) {
		return declaredEnd, nil
	}
	if ip.depth == 0 {
		return 0, fmt.Errorf("%w: declared length exceeds buffer", core.ErrMalformedHeader)
	}
	return len(b), nil
}

// dispatch binds the transport view matching the protocol number. A
// top-level packet must carry a complete minimal header; an embedded one
// falls back to Raw when too little was quoted.
func (ip *IP) dispatch() error {
	if ip.l4 != nil {
		return nil // non-first fragment
	}
	present := len(ip.bytes) - ip.l4Off
	enough := func(min int) (bool, error) {
		switch {
		case present >= min:
			return true, nil
		case ip.depth > 0:
			return false, nil
		default:
			return false, errTooShort
		}
	}

	var (
		ok  bool
		err error
	)
	switch ip.proto {
	case ProtoTCP:
		if ok, err = enough(ip.minLen(tcpMinLen)); ok {
			ip.l4 = ip.tcp.Parse(ip.bytes, ip.l4Off)
		}
	case icmpProto(ip.version):
		if ip.depth > 0 && present > 0 && isErrorType(ip.version, ip.bytes[ip.l4Off]) {
			return core.ErrExcessiveNesting
		}
		if ok, err = enough(icmpHeaderLen); ok {
			err = ip.dispatchICMP()
		}
	case ProtoUDP:
		if ok, err = enough(ip.minLen(udpLen)); ok {
			ip.l4 = ip.udp.Parse(ip.bytes, ip.l4Off)
		}
	}
	if err != nil {
		return err
	}
	if ip.l4 == nil {
		ip.l4 = ip.raw.Reset(ip.bytes, ip.l4Off)
	}
	return nil
}

// minLen relaxes transport minimums for embedded packets, which need only
// carry the port pair.
func (ip *IP) minLen(n int) int {
	if ip.depth > 0 {
		return embeddedMinLen
	}
	return n
}

func (ip *IP) dispatchICMP() error {
	typ := ip.bytes[ip.l4Off]
	switch {
	case isEchoType(ip.version, typ):
		ip.l4 = ip.echo.Parse(ip.bytes, ip.l4Off)
	case isErrorType(ip.version, typ):
		if ip.depth >= maxDepth {
			return core.ErrExcessiveNesting
		}
		if err := ip.icmpErr.parse(ip); err != nil {
			return err
		}
		ip.l4 = &ip.icmpErr
	}
	return nil
}

// parseEmbedded binds e to the packet quoted by an ICMP error of ip.
func (ip *IP) parseEmbedded(e *IP, off int) error {
	err := e.reset(ip.bytes, off, ip.depth+1)
	switch {
	case errors.Is(err, errTooShort):
		return fmt.Errorf("%w: %d bytes quoted", core.ErrTruncatedEmbeddedPacket, len(ip.bytes)-off)
	case err != nil:
		return err
	case e.version != ip.version:
		return fmt.Errorf("%w: %s error quotes %s packet", core.ErrMalformedHeader, ip.version, e.version)
	}
	return nil
}

// Version returns the IP version, the target version once a conversion is
// pending.
func (ip *IP) Version() Version { return ip.version }

// Proto returns the transport protocol number (IPv6: after extension
// headers). ICMP numbers follow the version.
func (ip *IP) Proto() uint8 { return ip.proto }

// TTL returns the IPv4 TTL or IPv6 hop limit.
func (ip *IP) TTL() uint8 { return ip.ttl }

// TOS returns the IPv4 type of service or IPv6 traffic class.
func (ip *IP) TOS() uint8 { return ip.tos }

// Depth is 0 for a top-level packet and 1 for a packet quoted by an ICMP error.
func (ip *IP) Depth() int { return ip.depth }

// L4 returns the transport view. It is one of *TCP, *UDP, *ICMPEcho,
// *ICMPError or *Raw.
func (ip *IP) L4() L4 { return ip.l4 }

// L4Bytes returns the buffer holding the transport header.
func (ip *IP) L4Bytes() []byte { return ip.bytes }

// L4BytesOffset returns the offset of the transport header in L4Bytes.
func (ip *IP) L4BytesOffset() int { return ip.l4Off }

// Start returns the offset of the IP header in L4Bytes.
func (ip *IP) Start() int { return ip.start }

// Bytes returns the packet, from the IP header to its end.
func (ip *IP) Bytes() []byte { return ip.bytes[ip.start:] }

// HeaderLen returns the length of the IP header in the buffer, including
// IPv4 options and IPv6 extension headers.
func (ip *IP) HeaderLen() int { return ip.l4Off - ip.start }

// PayloadLen returns the transport length declared by the header. For an
// embedded packet this may exceed the bytes actually quoted.
func (ip *IP) PayloadLen() int {
	if ip.pending {
		return ip.newL4Len
	}
	return ip.l4Len
}

// TotalLen returns the declared length of the packet.
func (ip *IP) TotalLen() int {
	return ip.HeaderLen() + ip.l4Len
}

// Fragmented reports whether the packet is a fragment: IPv4 with MF or an
// offset, IPv6 with a fragment header.
func (ip *IP) Fragmented() bool { return ip.frag }

// Pending reports whether a version conversion awaits ApplyChanges.
func (ip *IP) Pending() bool { return ip.pending }

// Src returns the source address bytes. While a conversion is pending they
// are read from the new header.
func (ip *IP) Src() []byte {
	if ip.pending {
		return srcAddr(ip.newHeader, ip.version)
	}
	return srcAddr(ip.bytes[ip.start:], ip.version)
}

// Dst returns the destination address bytes. While a conversion is pending
// they are read from the new header.
func (ip *IP) Dst() []byte {
	if ip.pending {
		return dstAddr(ip.newHeader, ip.version)
	}
	return dstAddr(ip.bytes[ip.start:], ip.version)
}

func srcAddr(h []byte, v Version) []byte {
	if v == IPv4 {
		return h[12:16:16]
	}
	return h[8:24:24]
}

func dstAddr(h []byte, v Version) []byte {
	if v == IPv4 {
		return h[16:20:20]
	}
	return h[24:40:40]
}

// SetTTL sets the TTL or hop limit, in the pending header when a conversion
// is pending. The IPv4 header checksum is kept valid.
func (ip *IP) SetTTL(ttl uint8) {
	switch {
	case ip.pending && ip.version == IPv4:
		ip.newHeader[8] = ttl
	case ip.pending:
		ip.newHeader[7] = ttl
	case ip.version == IPv4:
		h := ip.bytes[ip.start:]
		old := getU16(h, 8)
		h[8] = ttl
		setU16(h, 10, checksum.Adjust(getU16(h, 10), checksum.Delta16(old, getU16(h, 8))))
	default:
		ip.bytes[ip.start+7] = ttl
	}
	ip.ttl = ttl
}

// embeddedPacket returns the packet quoted by an ICMP error, or nil.
func (ip *IP) embeddedPacket() *IP {
	if e, ok := ip.l4.(*ICMPError); ok {
		return e.embedded
	}
	return nil
}
