package addrmap

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/xlat/internal/core"
)

// RFC 6052 section 2.4 examples for 192.0.2.33.
func TestPrefixEmbed(t *testing.T) {
	v4 := netip.MustParseAddr("192.0.2.33")
	tests := []struct {
		prefix string
		want   string
	}{
		{"2001:db8::/32", "2001:db8:c000:221::"},
		{"2001:db8:100::/40", "2001:db8:1c0:2:21::"},
		{"2001:db8:122::/48", "2001:db8:122:c000:2:2100::"},
		{"2001:db8:122:300::/56", "2001:db8:122:3c0:0:221::"},
		{"2001:db8:122:344::/64", "2001:db8:122:344:c0:2:2100:0"},
		{"2001:db8:122:344::/96", "2001:db8:122:344::192.0.2.33"},
		{"64:ff9b::/96", "64:ff9b::192.0.2.33"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			p, err := ParsePrefix(tt.prefix)
			require.NoError(t, err)
			want := netip.MustParseAddr(tt.want)

			assert.Equal(t, want, p.Embed(v4))
			got, ok := p.Extract(want)
			require.True(t, ok)
			assert.Equal(t, v4, got)
		})
	}
}

func TestPrefixExtractRejects(t *testing.T) {
	p := MustParsePrefix("2001:db8::/32")

	_, ok := p.Extract(netip.MustParseAddr("2001:db9::1"))
	assert.False(t, ok, "outside prefix")
	_, ok = p.Extract(netip.MustParseAddr("2001:db8:c000:221:ff00::"))
	assert.False(t, ok, "u-octet set")
	_, ok = p.Extract(netip.MustParseAddr("192.0.2.1"))
	assert.False(t, ok, "ipv4 input")
}

func TestParsePrefixInvalid(t *testing.T) {
	for _, s := range []string{
		"not a prefix",
		"192.0.2.0/24",
		"2001:db8::/44",
		"2001:db8::1/96",
		"64:ff9b:0:0:ff00::/96",
	} {
		_, err := ParsePrefix(s)
		assert.ErrorIs(t, err, core.ErrConfigInvalid, s)
	}
}

func TestMapperPrefix(t *testing.T) {
	m, err := New(WellKnownPrefix, nil)
	require.NoError(t, err)

	v6, err := m.ToIPv6(netip.MustParseAddr("198.51.100.7"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("64:ff9b::c633:6407"), v6)

	v4, err := m.ToIPv4(v6)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("198.51.100.7"), v4)

	_, err = m.ToIPv4(netip.MustParseAddr("2001:db8::1"))
	assert.ErrorIs(t, err, core.ErrUnmappable)
	_, err = m.ToIPv6(netip.MustParseAddr("2001:db8::1"))
	assert.ErrorIs(t, err, core.ErrUnmappable)
}

func TestMapperExplicitMappings(t *testing.T) {
	m, err := New(WellKnownPrefix, []EAM{
		{IPv4: netip.MustParsePrefix("192.0.2.0/24"), IPv6: netip.MustParsePrefix("2001:db8:aaaa::/120")},
		{IPv4: netip.MustParsePrefix("192.0.2.7/32"), IPv6: netip.MustParsePrefix("2001:db8:bbbb::7/128")},
	})
	require.NoError(t, err)

	tests := []struct {
		v4, v6 string
	}{
		{"192.0.2.1", "2001:db8:aaaa::1"},
		{"192.0.2.255", "2001:db8:aaaa::ff"},
		{"192.0.2.7", "2001:db8:bbbb::7"},
		{"203.0.113.9", "64:ff9b::203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.v4, func(t *testing.T) {
			v4, v6 := netip.MustParseAddr(tt.v4), netip.MustParseAddr(tt.v6)

			got6, err := m.ToIPv6(v4)
			require.NoError(t, err)
			assert.Equal(t, v6, got6)

			got4, err := m.ToIPv4(v6)
			require.NoError(t, err)
			assert.Equal(t, v4, got4)
		})
	}
}

func TestMapperExplicitOnly(t *testing.T) {
	m, err := New(Prefix{}, []EAM{
		{IPv4: netip.MustParsePrefix("10.0.0.0/8"), IPv6: netip.MustParsePrefix("2001:db8:ff00::/104")},
	})
	require.NoError(t, err)

	v6, err := m.ToIPv6(netip.MustParseAddr("10.1.2.3"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8:ff00::1:203"), v6)

	_, err = m.ToIPv6(netip.MustParseAddr("11.0.0.1"))
	assert.ErrorIs(t, err, core.ErrUnmappable)
}

func TestNewInvalid(t *testing.T) {
	_, err := New(Prefix{}, nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New(WellKnownPrefix, []EAM{
		{IPv4: netip.MustParsePrefix("192.0.2.0/24"), IPv6: netip.MustParsePrefix("2001:db8::/96")},
	})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New(WellKnownPrefix, []EAM{
		{IPv4: netip.MustParsePrefix("2001:db8::/120"), IPv6: netip.MustParsePrefix("2001:db8::/120")},
	})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
