// Package checksum implements the internet checksum and its incremental
// update (RFC 1071, RFC 1624).
//
// Sums are 16-bit ones'-complement accumulators. Deltas are plain signed
// integers holding the difference between two such sums; they may be of any
// magnitude and are reduced modulo 0xffff when applied.
package checksum

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip/checksum"
)

// Sum returns the folded ones'-complement sum of b added to initial.
// An odd trailing byte is padded with zero.
func Sum(b []byte, initial uint16) uint16 {
	return checksum.Checksum(b, initial)
}

// Checksum returns the internet checksum of b, seeded with initial.
func Checksum(b []byte, initial uint16) uint16 {
	return ^Sum(b, initial)
}

// Combine adds two ones'-complement sums.
func Combine(a, b uint16) uint16 {
	return checksum.Combine(a, b)
}

// Adjust returns the checksum that results from adding delta to the data
// covered by cs.
//
//	HC' = ~(~HC + m' - m)    RFC 1624 eqn. 3
//
// delta is m' - m summed over every changed word, so it may be negative.
func Adjust(cs uint16, delta int) uint16 {
	d := delta % 0xffff
	if d < 0 {
		d += 0xffff
	}
	s := uint32(^cs) + uint32(d)
	s = s&0xffff + s>>16
	s = s&0xffff + s>>16
	return ^uint16(s)
}

// Delta returns the change in ones'-complement sum when old is replaced by
// new. old and new must be the same, even, length; addresses of any family
// are handled as a sequence of 16-bit words.
func Delta(old, new []byte) int {
	if len(old) != len(new) {
		panic("checksum: old and new must be the same length")
	}
	d := 0
	for i := 0; i+1 < len(new); i += 2 {
		d += int(binary.BigEndian.Uint16(new[i:])) - int(binary.BigEndian.Uint16(old[i:]))
	}
	return d
}

// Replace returns the change in ones'-complement sum when the words of old
// are replaced by the words of new. Unlike Delta the lengths may differ, as
// when an IPv4 address pair becomes an IPv6 one; both must be even.
func Replace(old, new []byte) int {
	return int(Sum(new, 0)) - int(Sum(old, 0))
}

// Delta16 returns the change in ones'-complement sum when a 16-bit word
// changes from old to new.
func Delta16(old, new uint16) int {
	return int(new) - int(old)
}

// PseudoHeaderSum returns the ones'-complement sum of a transport
// pseudo-header. The IPv4 (RFC 793) and IPv6 (RFC 8200 §8.1) layouts differ
// only in field widths, which does not change the sum for equal inputs.
func PseudoHeaderSum(src, dst []byte, proto uint8, length int) uint16 {
	var tail [6]byte
	binary.BigEndian.PutUint32(tail[0:4], uint32(length))
	tail[5] = proto
	s := Sum(src, 0)
	s = Sum(dst, s)
	return Sum(tail[:], s)
}
