package protocols

import (
	"fmt"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/checksum"
)

// dfThreshold is the largest translated IPv4 packet that may be
// fragmented by routers downstream (RFC 7915 section 5.1).
const dfThreshold = 1260

// ConvertVersion stages a rewrite of the packet to the target version. The
// new fixed header is built in newHeader, which must not alias the packet
// buffer and must hold at least target.HeaderLen() bytes. Addresses are
// left for the caller to fill in through Src and Dst; Version and Src/Dst
// report the new header from here on, while the buffer is untouched until
// ApplyChanges.
//
// csDelta is the ones'-complement change of the transport pseudo-header
// caused by the caller's address rewrite, folded into the transport
// checksum on commit. ICMP pseudo-header differences are handled here.
//
// The embedded packet of an ICMP error must be converted first. On error
// nothing is modified.
func (ip *IP) ConvertVersion(target Version, newHeader []byte, csDelta int) error {
	if ip.pending {
		return core.ErrConversionPending
	}
	if target == ip.version || target.HeaderLen() == 0 {
		return fmt.Errorf("%w: %s to %s", core.ErrUnsupportedVersion, ip.version, target)
	}
	size := target.HeaderLen()
	if len(newHeader) < size {
		return fmt.Errorf("%w: %d bytes, need %d", core.ErrBufferTooSmall, len(newHeader), size)
	}

	l4Len := ip.l4Len
	var (
		stage func()
		err   error
	)
	switch l4 := ip.l4.(type) {
	case *ICMPEcho:
		stage, err = l4.prepare(ip.version)
	case *ICMPError:
		inner := l4.embedded
		if !inner.pending {
			return core.ErrEmbeddedNotConverted
		}
		stage, err = l4.prepare(ip.version)
		l4Len += inner.newHeaderLen() - inner.HeaderLen()
	case *Raw:
		if ip.proto == icmpProto(ip.version) {
			err = fmt.Errorf("%w: informational message", core.ErrUntranslatableICMP)
		}
	}
	if err != nil {
		return err
	}
	if target == IPv4 && ipv4Len(l4Len) > 0xffff {
		return fmt.Errorf("%w: %d bytes do not fit an ipv4 packet", core.ErrMalformedHeader, l4Len)
	}

	proto := ip.proto
	if proto == icmpProto(ip.version) {
		proto = icmpProto(target)
	}
	h := newHeader[:size:size]
	clear(h)
	switch target {
	case IPv6:
		h[0] = 0x60 | ip.tos>>4
		h[1] = ip.tos << 4
		setU16(h, 4, uint16(l4Len))
		h[6] = proto
		h[7] = ip.ttl
	case IPv4:
		h[0] = 0x45
		h[1] = ip.tos
		setU16(h, 2, uint16(ipv4Len(l4Len)))
		if ipv4Len(l4Len) > dfThreshold {
			h[6] = 0x40
		}
		h[8] = ip.ttl
		h[9] = proto
	}

	if stage != nil {
		stage()
	}
	ip.pending = true
	ip.origVersion = ip.version
	ip.version = target
	ip.proto = proto
	ip.newHeader = h
	ip.newL4Len = l4Len
	ip.csDelta += csDelta
	return nil
}

func ipv4Len(l4Len int) int {
	return IPv4.HeaderLen() + l4Len
}

func (ip *IP) newHeaderLen() int {
	return len(ip.newHeader)
}

// newHeaderSum returns the ones'-complement sum of the pending header as it
// will be written. A valid IPv4 header sums to 0xffff.
func (ip *IP) newHeaderSum() uint16 {
	if ip.version == IPv4 {
		return 0xffff
	}
	return checksum.Sum(ip.newHeader, 0)
}

// icmpPseudoDelta is the change in the ICMP checksum caused by the
// pseudo-header, which ICMPv6 covers and ICMPv4 does not.
func (ip *IP) icmpPseudoDelta() int {
	if !ip.pending {
		return 0
	}
	if ip.version == IPv6 {
		return int(checksum.PseudoHeaderSum(ip.Src(), ip.Dst(), ProtoICMPv6, ip.newL4Len))
	}
	old := ip.bytes[ip.start:]
	return -int(checksum.PseudoHeaderSum(srcAddr(old, IPv6), dstAddr(old, IPv6), ProtoICMPv6, ip.l4Len))
}

func (e *ICMPEcho) prepare(from Version) (func(), error) {
	typ, code, err := translateEcho(from, e.typ, e.code)
	if err != nil {
		return nil, err
	}
	return func() { e.newTyp, e.newCode = typ, code }, nil
}

func (e *ICMPError) prepare(from Version) (func(), error) {
	typ, code, rest, err := translateError(from, e.typ, e.code, e.rest, e.embedded)
	if err != nil {
		return nil, err
	}
	return func() { e.newTyp, e.newCode, e.newRest = typ, code, rest }, nil
}
