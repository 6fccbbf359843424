package afpacket

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// recomputeSize derives the PACKET_MMAP ring geometry for a memory budget.
// frameSize is a multiple of TPACKET_ALIGNMENT, blockSize a multiple of both
// the page size and frameSize, and blockSize*numBlocks approximates the
// budget.
func recomputeSize(ringBufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16 // TPACKET_ALIGNMENT for AF_PACKET
	const tpacketHdrLen = 52    // TPACKET2_HDRLEN or TPACKET3_HDRLEN (approximate)

	if ringBufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ringBufferSizeMB must be positive, got %d", ringBufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snapLen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("pageSize must be positive and multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	targetBytes := ringBufferSizeMB * 1024 * 1024

	// header + packet data
	rawFrameSize := tpacketHdrLen + snapLen
	frameSize = ((rawFrameSize + tpacketAlignment - 1) / tpacketAlignment) * tpacketAlignment

	blockSize = lcm(pageSize, frameSize)
	const maxBlockSize = 4 * 1024 * 1024
	if blockSize > maxBlockSize {
		// Page-aligned frames keep the block a multiple of both.
		frameSize = ((frameSize + pageSize - 1) / pageSize) * pageSize
		blockSize = max(maxBlockSize/frameSize, 1) * frameSize
	}
	numBlocks = max(targetBytes/blockSize, 1)

	return frameSize, blockSize, numBlocks, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a * b) / gcd(a, b)
}

// ipFilter accepts Ethernet frames carrying IPv4 or IPv6, with or without
// one 802.1Q tag, truncated to snapLen.
func ipFilter(snapLen int) []bpf.Instruction {
	const (
		etherTypeIPv4 = 0x0800
		etherTypeIPv6 = 0x86dd
		etherTypeVLAN = 0x8100
	)
	accept := uint32(snapLen)
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipTrue: 6},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipTrue: 5},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeVLAN, SkipFalse: 3},
		bpf.LoadAbsolute{Off: 16, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipTrue: 1},
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: accept},
	}
}
