package protocols

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"firestige.xyz/xlat/internal/core/checksum"
)

var (
	host4   = net.IP{192, 0, 2, 1}
	peer4   = net.IP{198, 51, 100, 7}
	host6   = net.ParseIP("2001:db8::1")
	peer6   = net.ParseIP("64:ff9b::c633:6407")
	mapped6 = net.ParseIP("64:ff9b::c000:201")
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func ipv4Layer(proto layers.IPProtocol, src, dst net.IP) *layers.IPv4 {
	return &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: src, DstIP: dst}
}

func ipv6Layer(proto layers.IPProtocol, src, dst net.IP) *layers.IPv6 {
	return &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: src, DstIP: dst}
}

func tcpLayer(src, dst layers.TCPPort) *layers.TCP {
	return &layers.TCP{SrcPort: src, DstPort: dst, Seq: 1000, Ack: 1, ACK: true, PSH: true, Window: 4096}
}

func tcp4(t *testing.T, payload []byte) []byte {
	ip := ipv4Layer(layers.IPProtocolTCP, host4, peer4)
	tcp := tcpLayer(40000, 80)
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, tcp, gopacket.Payload(payload))
}

func tcp6(t *testing.T, payload []byte) []byte {
	ip := ipv6Layer(layers.IPProtocolTCP, host6, peer6)
	tcp := tcpLayer(40000, 443)
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, tcp, gopacket.Payload(payload))
}

func udp4(t *testing.T, payload []byte) []byte {
	ip := ipv4Layer(layers.IPProtocolUDP, host4, peer4)
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, udp, gopacket.Payload(payload))
}

func echo4(t *testing.T, typ uint8) []byte {
	ip := ipv4Layer(layers.IPProtocolICMPv4, host4, peer4)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(typ, 0), Id: 0x1234, Seq: 7}
	return serialize(t, ip, icmp, gopacket.Payload("ping payload"))
}

func echo6(t *testing.T, typ uint8) []byte {
	ip := ipv6Layer(layers.IPProtocolICMPv6, host6, peer6)
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(typ, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip))
	echo := &layers.ICMPv6Echo{Identifier: 0x1234, SeqNumber: 7}
	return serialize(t, ip, icmp, echo, gopacket.Payload("ping payload"))
}

// icmp4Error wraps quoted in an ICMPv4 error sent back towards its source.
func icmp4Error(t *testing.T, typ, code uint8, id, seq uint16, quoted []byte) []byte {
	ip := ipv4Layer(layers.IPProtocolICMPv4, peer4, host4)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(typ, code), Id: id, Seq: seq}
	return serialize(t, ip, icmp, gopacket.Payload(quoted))
}

// icmp6Error wraps quoted in an ICMPv6 error. rest is bytes 4..7.
func icmp6Error(t *testing.T, typ, code uint8, rest uint32, quoted []byte) []byte {
	ip := ipv6Layer(layers.IPProtocolICMPv6, peer6, host6)
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(typ, code)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip))
	body := make([]byte, 4, 4+len(quoted))
	setU32(body, 0, rest)
	return serialize(t, ip, icmp, gopacket.Payload(append(body, quoted...)))
}

// withHeadroom copies pkt behind n bytes of headroom and returns the
// buffer and the packet offset.
func withHeadroom(pkt []byte, n int) ([]byte, int) {
	b := make([]byte, n+len(pkt))
	copy(b[n:], pkt)
	return b, n
}

// convert stages a conversion the way a translator would, rewriting the
// addresses and passing the pseudo-header delta for TCP and UDP.
func convert(t *testing.T, ip *IP, target Version, src, dst net.IP) {
	t.Helper()
	src, dst = addrBytes(target, src), addrBytes(target, dst)
	delta := 0
	switch ip.L4().(type) {
	case *TCP, *UDP:
		old := append(append([]byte{}, ip.Src()...), ip.Dst()...)
		delta = checksum.Replace(old, append(append([]byte{}, src...), dst...))
	}
	require.NoError(t, ip.ConvertVersion(target, make([]byte, target.HeaderLen()), delta))
	copy(ip.Src(), src)
	copy(ip.Dst(), dst)
}

func addrBytes(v Version, a net.IP) []byte {
	if v == IPv4 {
		return a.To4()
	}
	return a.To16()
}

// requireValid recomputes every checksum of the packet in b from scratch.
func requireValid(t *testing.T, b []byte) {
	t.Helper()
	ip, err := Parse(b)
	require.NoError(t, err)
	requireValidIP(t, ip, true)
}

func requireValidIP(t *testing.T, ip *IP, complete bool) {
	t.Helper()
	b := ip.L4Bytes()
	if ip.Version() == IPv4 {
		require.Equal(t, uint16(0xffff), checksum.Sum(b[ip.Start():ip.L4BytesOffset()], 0), "ipv4 header checksum")
	}
	if !complete {
		return
	}
	l4 := b[ip.L4BytesOffset():]
	var initial uint16
	switch ip.L4().(type) {
	case *TCP, *UDP:
		initial = checksum.PseudoHeaderSum(ip.Src(), ip.Dst(), ip.Proto(), len(l4))
	case *ICMPEcho, *ICMPError:
		if ip.Version() == IPv6 {
			initial = checksum.PseudoHeaderSum(ip.Src(), ip.Dst(), ProtoICMPv6, len(l4))
		}
	default:
		return
	}
	require.Equal(t, uint16(0xffff), checksum.Sum(l4, initial), "transport checksum")
}
