// Package addrmap maps addresses between IPv4 and IPv6 for the translator:
// RFC 6052 IPv4-embedded IPv6 addresses and RFC 7757 explicit address
// mappings.
package addrmap

import (
	"fmt"
	"net/netip"

	"firestige.xyz/xlat/internal/core"
)

// uOctet is the byte of an IPv4-embedded address that must be zero.
const uOctet = 8

// Prefix is an RFC 6052 translation prefix.
type Prefix struct {
	p netip.Prefix
}

// WellKnownPrefix is 64:ff9b::/96.
var WellKnownPrefix = MustParsePrefix("64:ff9b::/96")

// NewPrefix validates p as a translation prefix: IPv6, one of the lengths
// 32, 40, 48, 56, 64 or 96, and no host bits set.
func NewPrefix(p netip.Prefix) (Prefix, error) {
	if !p.IsValid() || !p.Addr().Is6() || p.Addr().Is4In6() {
		return Prefix{}, fmt.Errorf("%w: translation prefix %s is not ipv6", core.ErrConfigInvalid, p)
	}
	switch p.Bits() {
	case 32, 40, 48, 56, 64, 96:
	default:
		return Prefix{}, fmt.Errorf("%w: translation prefix length /%d", core.ErrConfigInvalid, p.Bits())
	}
	if p.Masked() != p {
		return Prefix{}, fmt.Errorf("%w: translation prefix %s has host bits", core.ErrConfigInvalid, p)
	}
	if p.Bits() > uOctet*8 && p.Addr().As16()[uOctet] != 0 {
		return Prefix{}, fmt.Errorf("%w: translation prefix %s sets bits 64-71", core.ErrConfigInvalid, p)
	}
	return Prefix{p: p}, nil
}

// ParsePrefix parses s and validates it with NewPrefix.
func ParsePrefix(s string) (Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return NewPrefix(p)
}

// MustParsePrefix is like ParsePrefix but panics on error.
func MustParsePrefix(s string) Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsValid reports whether p was set.
func (p Prefix) IsValid() bool { return p.p.IsValid() }

// Prefix returns the underlying IPv6 prefix.
func (p Prefix) Prefix() netip.Prefix { return p.p }

func (p Prefix) String() string { return p.p.String() }

// Embed returns the IPv6 address carrying a under p.
func (p Prefix) Embed(a netip.Addr) netip.Addr {
	b := p.p.Addr().As16()
	pos := p.p.Bits() / 8
	for _, x := range a.As4() {
		if pos == uOctet {
			pos++
		}
		b[pos] = x
		pos++
	}
	return netip.AddrFrom16(b)
}

// Extract returns the IPv4 address embedded in a, or false when a is not
// under p or its u-octet is set.
func (p Prefix) Extract(a netip.Addr) (netip.Addr, bool) {
	if !a.Is6() || a.Is4In6() || !p.p.Contains(a) {
		return netip.Addr{}, false
	}
	b := a.As16()
	if b[uOctet] != 0 {
		return netip.Addr{}, false
	}
	var v4 [4]byte
	pos := p.p.Bits() / 8
	for i := range v4 {
		if pos == uOctet {
			pos++
		}
		v4[i] = b[pos]
		pos++
	}
	return netip.AddrFrom4(v4), true
}
