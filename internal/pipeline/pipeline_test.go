package pipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/xlat/internal/addrmap"
	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/translator"
)

// MockSource replays frames and then returns io.EOF.
type MockSource struct {
	link   layers.LinkType
	frames [][]byte
	next   int
	err    error // returned instead of io.EOF when set
}

func (m *MockSource) ReadPacket() (core.RawPacket, error) {
	if m.next == len(m.frames) {
		if m.err != nil {
			return core.RawPacket{}, m.err
		}
		return core.RawPacket{}, io.EOF
	}
	data := m.frames[m.next]
	m.next++
	return core.RawPacket{
		Data:       data,
		Timestamp:  time.Unix(1700000000, int64(m.next)),
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
	}, nil
}

func (m *MockSource) LinkType() layers.LinkType { return m.link }

// MockSink records written packets.
type MockSink struct {
	mu      sync.Mutex
	packets []core.TranslatedPacket
	failAt  int // fail the n-th write (1-based), 0 never
}

func (m *MockSink) WritePacket(p core.TranslatedPacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAt > 0 && len(m.packets)+1 == m.failAt {
		return errors.New("disk full")
	}
	m.packets = append(m.packets, p)
	return nil
}

var (
	srcMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	dstMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func udp4Frame(t *testing.T, port uint16) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{192, 0, 2, 1}, DstIP: net.IP{198, 51, 100, 7},
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(port), DstPort: 9000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	return serialize(t, eth, ip, udp, gopacket.Payload("query"))
}

func udp6Frame(t *testing.T, src string) []byte {
	t.Helper()
	ip := &layers.IPv6{
		Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP(src), DstIP: net.ParseIP("64:ff9b::c000:201"),
	}
	udp := &layers.UDP{SrcPort: 9000, DstPort: 4000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
	return serialize(t, eth, ip, udp, gopacket.Payload("answer"))
}

func arpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: srcMAC, SourceProtAddress: []byte{192, 0, 2, 1},
		DstHwAddress: make([]byte, 6), DstProtAddress: []byte{192, 0, 2, 2},
	}
	return serialize(t, eth, arp)
}

func newTestPipeline(t *testing.T, src Source, sink Sink, workers, batch int) *Pipeline {
	t.Helper()
	mapper, err := addrmap.New(addrmap.WellKnownPrefix, nil)
	require.NoError(t, err)
	return NewBuilder().
		WithSource(src).
		WithSink(sink).
		WithMapper(mapper).
		WithWorkers(workers).
		WithBatchSize(batch).
		WithDropLog(DropLogLimiterConfig{MaxPerReason: 0}).
		Build()
}

func TestPipeline_BasicFlow(t *testing.T) {
	src := &MockSource{link: layers.LinkTypeEthernet, frames: [][]byte{
		udp4Frame(t, 1000),
		udp6Frame(t, "64:ff9b::c633:6407"),
	}}
	sink := &MockSink{}
	p := newTestPipeline(t, src, sink, 2, 8)

	require.NoError(t, p.Run(context.Background()))
	require.Len(t, sink.packets, 2)

	pkt := gopacket.NewPacket(sink.packets[0].Data, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	require.True(t, ok)
	assert.Equal(t, "64:ff9b::c000:201", ip6.SrcIP.String())
	assert.Equal(t, "64:ff9b::c633:6407", ip6.DstIP.String())
	assert.Equal(t, core.DirectionV4ToV6, sink.packets[0].Direction)
	assert.Equal(t, uint32(len(sink.packets[0].Data)), sink.packets[0].OrigLen)

	pkt = gopacket.NewPacket(sink.packets[1].Data, layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	ip4, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.Equal(t, "198.51.100.7", ip4.SrcIP.String())
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, []byte("answer"), udp.Payload)

	s := p.Stats()
	assert.Equal(t, uint64(2), s.Received)
	assert.Equal(t, uint64(2), s.Translated)
	assert.Equal(t, uint64(1), s.V4ToV6)
	assert.Equal(t, uint64(1), s.V6ToV4)
	assert.Equal(t, uint64(2), s.Written)
	assert.Equal(t, uint64(1), s.Batches)
}

func TestPipeline_Drops(t *testing.T) {
	src := &MockSource{link: layers.LinkTypeEthernet, frames: [][]byte{
		arpFrame(t),
		udp6Frame(t, "2001:db8::1"),
		udp4Frame(t, 1000),
	}}
	sink := &MockSink{}
	p := newTestPipeline(t, src, sink, 1, 8)

	require.NoError(t, p.Run(context.Background()))
	require.Len(t, sink.packets, 1)
	assert.Equal(t, uint64(2), sink.packets[0].Seq)

	s := p.Stats()
	assert.Equal(t, uint64(3), s.Received)
	assert.Equal(t, uint64(2), s.Dropped)
	assert.Equal(t, uint64(1), s.DecodeErrors)
	assert.Equal(t, uint64(1), s.Translated)
}

func TestPipeline_TranslateBatchKeepsErrors(t *testing.T) {
	p := newTestPipeline(t, &MockSource{}, nil, 2, 8)
	batch := []core.RawPacket{
		{Data: udp6Frame(t, "2001:db8::1"), Seq: 0},
		{Data: arpFrame(t), Seq: 1},
		{Data: []byte{0x45}, Seq: 2},
	}
	out, err := p.TranslateBatch(context.Background(), layers.LinkTypeEthernet, batch)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.ErrorIs(t, out[0].Err, core.ErrUnmappable)
	assert.ErrorIs(t, out[1].Err, core.ErrUnsupportedProto)
	assert.Error(t, out[2].Err)
	for i := range out {
		assert.Nil(t, out[i].Data)
		assert.Equal(t, uint64(i), out[i].Seq)
	}
}

func TestPipeline_TranslateBatchLeavesInputIntact(t *testing.T) {
	p := newTestPipeline(t, &MockSource{}, nil, 1, 8)
	frame := udp4Frame(t, 1000)
	orig := append([]byte(nil), frame...)

	out, err := p.TranslateBatch(context.Background(), layers.LinkTypeEthernet, []core.RawPacket{{Data: frame}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NoError(t, out[0].Err)
	assert.Equal(t, orig, frame)
	assert.Len(t, out[0].Data, 14+40+8+len("query"))
	assert.Equal(t, []byte{0x86, 0xDD}, out[0].Data[12:14])
}

func TestPipeline_OrderPreserved(t *testing.T) {
	const n = 200
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = udp4Frame(t, uint16(10000+i))
	}
	src := &MockSource{link: layers.LinkTypeEthernet, frames: frames}
	sink := &MockSink{}
	p := newTestPipeline(t, src, sink, 8, 32)

	require.NoError(t, p.Run(context.Background()))
	require.Len(t, sink.packets, n)
	for i, out := range sink.packets {
		assert.Equal(t, uint64(i), out.Seq)
		pkt := gopacket.NewPacket(out.Data, layers.LayerTypeEthernet, gopacket.Default)
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		require.True(t, ok)
		assert.Equal(t, layers.UDPPort(10000+i), udp.SrcPort)
	}
	assert.Equal(t, uint64(7), p.Stats().Batches)
}

func TestPipeline_RawLink(t *testing.T) {
	frame := udp4Frame(t, 1000)[14:]
	src := &MockSource{link: layers.LinkTypeIPv4, frames: [][]byte{frame}}
	sink := &MockSink{}
	p := newTestPipeline(t, src, sink, 1, 1)

	require.NoError(t, p.Run(context.Background()))
	require.Len(t, sink.packets, 1)
	assert.Equal(t, byte(6), sink.packets[0].Data[0]>>4)
	// Ethernet padding is not part of the IPv4 packet.
	assert.Len(t, sink.packets[0].Data, 40+8+len("query"))
}

func TestPipeline_SinkError(t *testing.T) {
	src := &MockSource{link: layers.LinkTypeEthernet, frames: [][]byte{
		udp4Frame(t, 1), udp4Frame(t, 2), udp4Frame(t, 3),
	}}
	sink := &MockSink{failAt: 2}
	p := newTestPipeline(t, src, sink, 1, 8)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, uint64(1), p.Stats().Written)
	assert.Equal(t, uint64(1), p.Stats().WriteErrors)
}

func TestPipeline_SourceError(t *testing.T) {
	src := &MockSource{link: layers.LinkTypeEthernet, err: errors.New("bad record")}
	p := newTestPipeline(t, src, &MockSink{}, 1, 8)
	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read packet")
}

// IdleSource reports idle before every frame.
type IdleSource struct {
	MockSource
	idle bool
}

func (s *IdleSource) ReadPacket() (core.RawPacket, error) {
	s.idle = !s.idle
	if s.idle {
		return core.RawPacket{}, ErrIdle
	}
	return s.MockSource.ReadPacket()
}

func TestPipeline_IdleFlushesBatch(t *testing.T) {
	src := &IdleSource{MockSource: MockSource{link: layers.LinkTypeEthernet, frames: [][]byte{
		udp4Frame(t, 1), udp4Frame(t, 2),
	}}}
	sink := &MockSink{}
	p := newTestPipeline(t, src, sink, 1, 8)

	require.NoError(t, p.Run(context.Background()))
	require.Len(t, sink.packets, 2)
	assert.Equal(t, uint64(2), p.Stats().Batches)
}

func TestPipeline_Cancelled(t *testing.T) {
	src := &MockSource{link: layers.LinkTypeEthernet, frames: [][]byte{udp4Frame(t, 1)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, src, &MockSink{}, 1, 8)
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
}

func TestPipeline_DecrementTTL(t *testing.T) {
	mapper, err := addrmap.New(addrmap.WellKnownPrefix, nil)
	require.NoError(t, err)
	sink := &MockSink{}
	p := NewBuilder().
		WithSource(&MockSource{link: layers.LinkTypeEthernet, frames: [][]byte{udp4Frame(t, 1)}}).
		WithSink(sink).
		WithMapper(mapper).
		WithOptions(translator.Options{DecrementTTL: true}).
		Build()

	require.NoError(t, p.Run(context.Background()))
	require.Len(t, sink.packets, 1)
	pkt := gopacket.NewPacket(sink.packets[0].Data, layers.LayerTypeEthernet, gopacket.Default)
	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	require.True(t, ok)
	assert.Equal(t, uint8(63), ip6.HopLimit)
}

func TestBuilder_FluentAPI(t *testing.T) {
	src := &MockSource{link: layers.LinkTypeRaw}
	sink := &MockSink{}
	p := NewBuilder().
		WithSource(src).
		WithSink(sink).
		WithWorkers(4).
		WithBatchSize(16).
		WithHeadroom(128).
		Build()

	assert.Equal(t, 4, p.workers)
	assert.Equal(t, 16, p.batchSize)
	assert.Equal(t, 128, p.headroom)
	assert.Same(t, src, p.source)
	assert.NotNil(t, p.limiter)
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, 1, p.workers)
	assert.Equal(t, DefaultBatchSize, p.batchSize)
	assert.Equal(t, DefaultHeadroom, p.headroom)
	assert.NotNil(t, p.logger)
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.Received.Add(3)
	m.Dropped.Add(1)
	m.Reset()
	assert.Equal(t, Stats{}, m.snapshot())
}
