package addrmap

import (
	"fmt"
	"net/netip"

	"github.com/gaissmai/bart"

	"firestige.xyz/xlat/internal/core"
)

// EAM is an explicit address mapping between an IPv4 and an IPv6 prefix
// with equally long suffixes (RFC 7757).
type EAM struct {
	IPv4 netip.Prefix
	IPv6 netip.Prefix
}

func (e EAM) validate() error {
	switch {
	case !e.IPv4.IsValid() || !e.IPv4.Addr().Is4():
		return fmt.Errorf("%w: eam %s is not an ipv4 prefix", core.ErrConfigInvalid, e.IPv4)
	case !e.IPv6.IsValid() || !e.IPv6.Addr().Is6() || e.IPv6.Addr().Is4In6():
		return fmt.Errorf("%w: eam %s is not an ipv6 prefix", core.ErrConfigInvalid, e.IPv6)
	case 32-e.IPv4.Bits() != 128-e.IPv6.Bits():
		return fmt.Errorf("%w: eam %s and %s differ in suffix length", core.ErrConfigInvalid, e.IPv4, e.IPv6)
	}
	return nil
}

// Mapper translates addresses, consulting the explicit mappings first and
// the RFC 6052 prefix second. It is safe for concurrent use once built.
type Mapper struct {
	prefix Prefix
	eam4   *bart.Table[EAM]
	eam6   *bart.Table[EAM]
}

// New returns a Mapper. prefix may be the zero Prefix when only explicit
// mappings are used.
func New(prefix Prefix, eams []EAM) (*Mapper, error) {
	m := &Mapper{
		prefix: prefix,
		eam4:   &bart.Table[EAM]{},
		eam6:   &bart.Table[EAM]{},
	}
	for _, e := range eams {
		if err := e.validate(); err != nil {
			return nil, err
		}
		e.IPv4, e.IPv6 = e.IPv4.Masked(), e.IPv6.Masked()
		m.eam4.Insert(e.IPv4, e)
		m.eam6.Insert(e.IPv6, e)
	}
	if !prefix.IsValid() && len(eams) == 0 {
		return nil, fmt.Errorf("%w: no translation prefix or explicit mapping", core.ErrConfigInvalid)
	}
	return m, nil
}

// ToIPv6 maps an IPv4 address to IPv6.
func (m *Mapper) ToIPv6(a netip.Addr) (netip.Addr, error) {
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s is not ipv4", core.ErrUnmappable, a)
	}
	if e, ok := m.eam4.Lookup(a); ok {
		return graft(e.IPv6.Addr(), a, 32-e.IPv4.Bits()), nil
	}
	if m.prefix.IsValid() {
		return m.prefix.Embed(a), nil
	}
	return netip.Addr{}, fmt.Errorf("%w: %s", core.ErrUnmappable, a)
}

// ToIPv4 maps an IPv6 address to IPv4.
func (m *Mapper) ToIPv4(a netip.Addr) (netip.Addr, error) {
	if e, ok := m.eam6.Lookup(a); ok {
		return graft(e.IPv4.Addr(), a, 128-e.IPv6.Bits()), nil
	}
	if m.prefix.IsValid() {
		if v4, ok := m.prefix.Extract(a); ok {
			return v4, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: %s", core.ErrUnmappable, a)
}

// graft returns base with its last n bits replaced by the last n bits of
// host.
func graft(base, host netip.Addr, n int) netip.Addr {
	dst := base.AsSlice()
	src := host.AsSlice()
	for i := 0; i < n; i++ {
		mask := byte(1) << (i % 8)
		d, s := len(dst)-1-i/8, len(src)-1-i/8
		dst[d] = dst[d]&^mask | src[s]&mask
	}
	out, _ := netip.AddrFromSlice(dst)
	return out
}
