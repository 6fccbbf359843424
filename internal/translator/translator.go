// Package translator drives stateless IP/ICMP translation (RFC 7915) over
// the packet views in protocols, with addresses supplied by an
// AddressMapper.
package translator

import (
	"fmt"
	"net/netip"

	"golang.org/x/net/ipv6"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/checksum"
	"firestige.xyz/xlat/internal/core/protocols"
)

// AddressMapper maps addresses between families.
type AddressMapper interface {
	ToIPv6(netip.Addr) (netip.Addr, error)
	ToIPv4(netip.Addr) (netip.Addr, error)
}

// Options tunes a Translator.
type Options struct {
	// DecrementTTL makes the translator act as a router hop.
	DecrementTTL bool
	// AllowFragments translates fragments as if whole. Off, fragments are
	// dropped with core.ErrFragmented.
	AllowFragments bool
}

// Translator rewrites packets to the other address family in place. It
// holds the scratch headers of one packet at a time and must not be shared
// between goroutines.
type Translator struct {
	mapper AddressMapper
	opts   Options

	outer [ipv6.HeaderLen]byte
	inner [ipv6.HeaderLen]byte
}

func New(mapper AddressMapper, opts Options) *Translator {
	return &Translator{mapper: mapper, opts: opts}
}

// Translate converts ip, and the packet quoted by an ICMP error, to the
// other version and commits the result. On success ip.Bytes() is the
// translated packet. On error the buffer is unchanged unless the error
// came from the commit itself, and ip must be Reset before reuse.
func (t *Translator) Translate(ip *protocols.IP) error {
	if ip.L4() == nil {
		return fmt.Errorf("%w: unbound packet view", core.ErrMalformedHeader)
	}
	if ip.Fragmented() && !t.opts.AllowFragments {
		return core.ErrFragmented
	}
	if t.opts.DecrementTTL && ip.TTL() <= 1 {
		return core.ErrTTLExpired
	}

	target := ip.Version().Other()
	if e, ok := ip.L4().(*protocols.ICMPError); ok {
		if err := t.convert(e.Embedded(), target, t.inner[:]); err != nil {
			return fmt.Errorf("embedded: %w", err)
		}
	}
	if err := t.convert(ip, target, t.outer[:]); err != nil {
		return err
	}
	if t.opts.DecrementTTL {
		ip.SetTTL(ip.TTL() - 1)
	}
	return ip.ApplyChanges()
}

// convert maps the addresses of ip and stages its conversion.
func (t *Translator) convert(ip *protocols.IP, target protocols.Version, hdr []byte) error {
	src, err := t.mapAddr(ip.Src(), target)
	if err != nil {
		return err
	}
	dst, err := t.mapAddr(ip.Dst(), target)
	if err != nil {
		return err
	}

	var sb, db [16]byte
	newSrc, newDst := addrBytes(src, &sb), addrBytes(dst, &db)

	// TCP and UDP cover the addresses through the pseudo-header; ICMP
	// pseudo-header changes are handled by the conversion itself.
	var csDelta int
	switch ip.L4().(type) {
	case *protocols.TCP, *protocols.UDP:
		csDelta = checksum.Replace(ip.Src(), newSrc) + checksum.Replace(ip.Dst(), newDst)
	case *protocols.ICMPEcho, *protocols.ICMPError, *protocols.Raw:
	}

	if err := ip.ConvertVersion(target, hdr, csDelta); err != nil {
		return err
	}
	copy(ip.Src(), newSrc)
	copy(ip.Dst(), newDst)
	return nil
}

func (t *Translator) mapAddr(b []byte, target protocols.Version) (netip.Addr, error) {
	a, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}, core.ErrMalformedHeader
	}
	var mapped netip.Addr
	var err error
	if target == protocols.IPv6 {
		mapped, err = t.mapper.ToIPv6(a)
	} else {
		mapped, err = t.mapper.ToIPv4(a)
	}
	if err != nil {
		return netip.Addr{}, err
	}
	if mapped.Is4() != (target == protocols.IPv4) {
		return netip.Addr{}, fmt.Errorf("%w: %s mapped to %s", core.ErrUnmappable, a, mapped)
	}
	return mapped, nil
}

func addrBytes(a netip.Addr, buf *[16]byte) []byte {
	if a.Is4() {
		v4 := a.As4()
		return append(buf[:0], v4[:]...)
	}
	*buf = a.As16()
	return buf[:]
}
