package decoder

import (
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/xlat/internal/addrmap"
	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/protocols"
	"firestige.xyz/xlat/internal/translator"
)

var (
	srcMAC = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	dstMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
)

func makeFrame(t *testing.T, vlan bool) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 1, 1},
		DstIP:    net.IP{192, 168, 1, 2},
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 5001}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	ls := []gopacket.SerializableLayer{eth}
	if vlan {
		eth.EthernetType = layers.EthernetTypeDot1Q
		ls = append(ls, &layers.Dot1Q{VLANIdentifier: 10, Type: layers.EthernetTypeIPv4})
	}
	ls = append(ls, ip, udp, gopacket.Payload("payload"))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func TestDecode(t *testing.T) {
	f, err := Decode(layers.LinkTypeEthernet, makeFrame(t, false))
	require.NoError(t, err)
	assert.Equal(t, 14, f.L3Off)
	assert.Equal(t, 12, f.TypeOff)
	assert.Equal(t, uint16(0x0800), f.EtherType)

	f, err = Decode(layers.LinkTypeEthernet, makeFrame(t, true))
	require.NoError(t, err)
	assert.Equal(t, 18, f.L3Off)
	assert.Equal(t, 16, f.TypeOff)
	assert.Equal(t, []uint16{10}, f.VLANs)

	f, err = Decode(layers.LinkTypeRaw, []byte{0x45})
	require.NoError(t, err)
	assert.Equal(t, 0, f.L3Off)
	assert.Equal(t, -1, f.TypeOff)
}

func TestDecodeSLL(t *testing.T) {
	data := make([]byte, 16+20)
	data[14], data[15] = 0x86, 0xDD
	data[16] = 0x60

	f, err := Decode(layers.LinkTypeLinuxSLL, data)
	require.NoError(t, err)
	assert.Equal(t, 16, f.L3Off)
	assert.Equal(t, 14, f.TypeOff)
	assert.Equal(t, uint16(0x86DD), f.EtherType)
}

func TestDecodeErrors(t *testing.T) {
	arp := makeFrame(t, false)
	arp[12], arp[13] = 0x08, 0x06

	tests := []struct {
		name string
		link layers.LinkType
		data []byte
		want error
	}{
		{"non-ip ethertype", layers.LinkTypeEthernet, arp, core.ErrUnsupportedProto},
		{"unsupported link", layers.LinkTypeIEEE802_11, arp, core.ErrUnsupportedProto},
		{"short ethernet", layers.LinkTypeEthernet, arp[:10], core.ErrPacketTooShort},
		{"header only", layers.LinkTypeEthernet, arp[:14], core.ErrUnsupportedProto},
		{"short sll", layers.LinkTypeLinuxSLL, arp[:15], core.ErrPacketTooShort},
		{"empty raw", layers.LinkTypeRaw, nil, core.ErrPacketTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.link, tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	f := Frame{Link: layers.LinkTypeEthernet, L3Off: 14, TypeOff: 12, EtherType: 0x0800}
	hdr := make([]byte, 14)
	hdr[12], hdr[13] = 0x08, 0x00

	t.Run("in place", func(t *testing.T) {
		buf := make([]byte, 20+4)
		buf[20] = 0x60
		out := f.Wrap(buf, 20, hdr, protocols.IPv6)
		assert.Len(t, out, 18)
		assert.Same(t, &buf[6], &out[0])
		assert.Equal(t, []byte{0x86, 0xDD}, out[12:14])
		assert.Equal(t, byte(0x60), out[14])
	})

	t.Run("reallocates", func(t *testing.T) {
		buf := []byte{0x45, 1, 2, 3}
		out := f.Wrap(buf, 0, hdr, protocols.IPv4)
		assert.Len(t, out, 18)
		assert.Equal(t, []byte{0x08, 0x00, 0x45}, out[12:15])
	})

	t.Run("raw", func(t *testing.T) {
		raw := Frame{Link: layers.LinkTypeRaw, TypeOff: -1}
		buf := []byte{0, 0, 0x60}
		assert.Equal(t, []byte{0x60}, raw.Wrap(buf, 2, nil, protocols.IPv6))
	})
}

func TestOutputLink(t *testing.T) {
	assert.Equal(t, layers.LinkTypeRaw, OutputLink(layers.LinkTypeIPv4))
	assert.Equal(t, layers.LinkTypeRaw, OutputLink(layers.LinkTypeIPv6))
	assert.Equal(t, layers.LinkTypeEthernet, OutputLink(layers.LinkTypeEthernet))
}

func TestTranslateFrame(t *testing.T) {
	frame := makeFrame(t, true)
	f, err := Decode(layers.LinkTypeEthernet, frame)
	require.NoError(t, err)

	const headroom = 32
	buf := make([]byte, headroom+len(frame))
	copy(buf[headroom:], frame)
	hdr := append([]byte(nil), f.Header(frame)...)

	ip := new(protocols.IP)
	require.NoError(t, ip.Reset(buf, headroom+f.L3Off))
	mapper, err := addrmap.New(addrmap.WellKnownPrefix, nil)
	require.NoError(t, err)
	require.NoError(t, translator.New(mapper, translator.Options{}).Translate(ip))

	out := f.Wrap(ip.L4Bytes(), ip.Start(), hdr, ip.Version())
	pkt := gopacket.NewPacket(out, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	dot1q, ok := pkt.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q)
	require.True(t, ok)
	assert.Equal(t, uint16(10), dot1q.VLANIdentifier)
	assert.Equal(t, layers.EthernetTypeIPv6, dot1q.Type)

	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	require.True(t, ok)
	assert.Equal(t, "64:ff9b::c0a8:101", ip6.SrcIP.String())
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, layers.UDPPort(5001), udp.DstPort)
	assert.Equal(t, []byte("payload"), udp.Payload)
}
