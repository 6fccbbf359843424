package pipeline

import (
	"sync/atomic"
)

// Metrics contains the pipeline counters. They are updated in input order
// after each batch.
type Metrics struct {
	Received     atomic.Uint64
	DecodeErrors atomic.Uint64
	Translated   atomic.Uint64
	V4ToV6       atomic.Uint64
	V6ToV4       atomic.Uint64
	Dropped      atomic.Uint64
	Written      atomic.Uint64
	WriteErrors  atomic.Uint64
	Batches      atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.DecodeErrors.Store(0)
	m.Translated.Store(0)
	m.V4ToV6.Store(0)
	m.V6ToV4.Store(0)
	m.Dropped.Store(0)
	m.Written.Store(0)
	m.WriteErrors.Store(0)
	m.Batches.Store(0)
}

// Stats is a snapshot of Metrics.
type Stats struct {
	Received     uint64
	DecodeErrors uint64
	Translated   uint64
	V4ToV6       uint64
	V6ToV4       uint64
	Dropped      uint64
	Written      uint64
	WriteErrors  uint64
	Batches      uint64
}

func (m *Metrics) snapshot() Stats {
	return Stats{
		Received:     m.Received.Load(),
		DecodeErrors: m.DecodeErrors.Load(),
		Translated:   m.Translated.Load(),
		V4ToV6:       m.V4ToV6.Load(),
		V6ToV4:       m.V6ToV4.Load(),
		Dropped:      m.Dropped.Load(),
		Written:      m.Written.Load(),
		WriteErrors:  m.WriteErrors.Load(),
		Batches:      m.Batches.Load(),
	}
}
