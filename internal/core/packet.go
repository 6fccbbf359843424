// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is one captured frame handed to the translation pipeline.
type RawPacket struct {
	Data       []byte    // Frame data; may be rewritten in place by translation
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Captured length
	OrigLen    uint32    // Original frame length on the wire
	Seq        uint64    // Position in the input stream
}

// TranslatedPacket is the outcome of translating one RawPacket.
type TranslatedPacket struct {
	Data      []byte // Translated frame, nil when dropped
	Timestamp time.Time
	OrigLen   uint32
	Seq       uint64
	Direction Direction
	Err       error // Non-nil when the packet was dropped
}

// Dropped reports whether the packet was rejected by translation.
func (p *TranslatedPacket) Dropped() bool {
	return p.Err != nil
}
