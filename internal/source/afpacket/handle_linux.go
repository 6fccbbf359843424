//go:build linux

package afpacket

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/pipeline"
)

// Handle is a pipeline source and sink on one interface. Reads return
// pipeline.ErrIdle when the poll timeout passes without a frame.
type Handle struct {
	tp     *afpacket.TPacket
	device string
}

// Open binds a TPACKET_V3 ring to cfg.Device. Only IPv4 and IPv6 frames
// are captured.
func Open(cfg Config) (*Handle, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	frameSize, blockSize, numBlocks, err := recomputeSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket open %s: %w", cfg.Device, err)
	}

	if cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("afpacket fanout: %w", err)
		}
	}

	raw, err := bpf.Assemble(ipFilter(cfg.SnapLen))
	if err == nil {
		err = tp.SetBPF(raw)
	}
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("afpacket filter: %w", err)
	}
	return &Handle{tp: tp, device: cfg.Device}, nil
}

func (h *Handle) ReadPacket() (core.RawPacket, error) {
	data, ci, err := h.tp.ReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
			return core.RawPacket{}, pipeline.ErrIdle
		}
		return core.RawPacket{}, fmt.Errorf("afpacket read %s: %w", h.device, err)
	}
	return core.RawPacket{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
	}, nil
}

func (h *Handle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (h *Handle) WritePacket(p core.TranslatedPacket) error {
	return h.tp.WritePacketData(p.Data)
}

func (h *Handle) Close() error {
	h.tp.Close()
	return nil
}
