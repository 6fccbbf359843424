// Package pipeline runs captured frames through the translator in
// parallel batches and writes the results in input order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/protocols"
	"firestige.xyz/xlat/internal/log"
	"firestige.xyz/xlat/internal/metrics"
	"firestige.xyz/xlat/internal/translator"
)

// ErrIdle is returned by a Source that has no frame ready. The pipeline
// flushes the frames read so far and polls again.
var ErrIdle = errors.New("pipeline: source idle")

// Source yields captured frames. ReadPacket returns io.EOF at the end of
// the input.
type Source interface {
	ReadPacket() (core.RawPacket, error)
	LinkType() layers.LinkType
}

// Sink receives translated frames in input order.
type Sink interface {
	WritePacket(core.TranslatedPacket) error
}

const (
	DefaultBatchSize = 256
	DefaultHeadroom  = 64
)

// Pipeline translates frames from a Source into a Sink. Frames in a batch
// are split across workers; each worker owns a translator and scratch
// space taken from a pool.
type Pipeline struct {
	source    Source
	sink      Sink
	mapper    translator.AddressMapper
	opts      translator.Options
	workers   int
	batchSize int
	headroom  int

	views   *protocols.Pool
	pool    sync.Pool
	limiter *DropLogLimiter
	logger  log.Logger
	metrics *Metrics
}

// Config contains pipeline configuration.
type Config struct {
	Source    Source
	Sink      Sink
	Mapper    translator.AddressMapper
	Options   translator.Options
	Workers   int // Parallel workers per batch (default 1)
	BatchSize int // Frames per batch
	Headroom  int // Bytes reserved in front of each frame for header growth
	DropLog   DropLogLimiterConfig
	Logger    log.Logger
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Headroom <= 0 {
		cfg.Headroom = DefaultHeadroom
	}
	if cfg.Logger == nil {
		cfg.Logger = log.GetLogger()
	}

	p := &Pipeline{
		source:    cfg.Source,
		sink:      cfg.Sink,
		mapper:    cfg.Mapper,
		opts:      cfg.Options,
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
		headroom:  cfg.Headroom,
		views:     protocols.NewPool(),
		limiter:   NewDropLogLimiter(cfg.DropLog),
		logger:    cfg.Logger.WithField("component", "pipeline"),
		metrics:   NewMetrics(),
	}
	p.pool.New = func() any {
		return &worker{
			xl:       translator.New(p.mapper, p.opts),
			views:    p.views,
			headroom: p.headroom,
		}
	}
	return p
}

// Run translates until the source is exhausted or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	link := p.source.LinkType()
	p.logger.WithFields(map[string]interface{}{
		"link":       link.String(),
		"workers":    p.workers,
		"batch_size": p.batchSize,
	}).Info("pipeline starting")

	batch := make([]core.RawPacket, 0, p.batchSize)
	var seq uint64
	for {
		batch = batch[:0]
		eof := false
		for len(batch) < p.batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := p.source.ReadPacket()
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if errors.Is(err, ErrIdle) {
				break
			}
			if err != nil {
				return fmt.Errorf("read packet: %w", err)
			}
			raw.Seq = seq
			seq++
			batch = append(batch, raw)
		}

		if len(batch) > 0 {
			out, err := p.TranslateBatch(ctx, link, batch)
			if err != nil {
				return err
			}
			if err := p.write(out); err != nil {
				return err
			}
		}
		if eof {
			s := p.Stats()
			p.logger.WithFields(map[string]interface{}{
				"received":   s.Received,
				"translated": s.Translated,
				"dropped":    s.Dropped,
			}).Info("pipeline finished")
			return nil
		}
	}
}

// TranslateBatch translates frames of the given link type. The result has
// one entry per input frame, in input order; dropped frames carry the
// drop error. Each frame is copied into a fresh buffer with headroom in
// front of it; the input frames are left untouched.
func (p *Pipeline) TranslateBatch(ctx context.Context, link layers.LinkType, batch []core.RawPacket) ([]core.TranslatedPacket, error) {
	start := time.Now()
	out := make([]core.TranslatedPacket, len(batch))

	n := p.workers
	if n > len(batch) {
		n = len(batch)
	}
	chunk := (len(batch) + n - 1) / n

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for lo := 0; lo < len(batch); lo += chunk {
		hi := min(lo+chunk, len(batch))
		g.Go(func() error {
			w := p.pool.Get().(*worker)
			defer p.pool.Put(w)
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[i] = w.process(link, batch[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.TranslateLatencySeconds.Observe(time.Since(start).Seconds())
	metrics.BatchSize.Observe(float64(len(batch)))
	p.metrics.Batches.Add(1)
	for i := range out {
		p.account(&out[i])
	}
	return out, nil
}

// account updates counters and logs drops. It runs in input order.
func (p *Pipeline) account(pkt *core.TranslatedPacket) {
	p.metrics.Received.Add(1)
	if pkt.Dropped() {
		p.metrics.Dropped.Add(1)
		if errors.Is(pkt.Err, core.ErrUnsupportedProto) || errors.Is(pkt.Err, core.ErrPacketTooShort) {
			p.metrics.DecodeErrors.Add(1)
		}
		metrics.RecordDrop(pkt.Err)

		reason := core.DropReason(pkt.Err)
		if p.limiter.Allow(reason, time.Now()) {
			l := p.logger.WithField("seq", pkt.Seq).WithField("reason", reason)
			if n := p.limiter.TakeSuppressed(); n > 0 {
				l = l.WithField("suppressed", n)
			}
			l.WithError(pkt.Err).Warn("packet dropped")
		}
		return
	}

	p.metrics.Translated.Add(1)
	switch pkt.Direction {
	case core.DirectionV4ToV6:
		p.metrics.V4ToV6.Add(1)
	case core.DirectionV6ToV4:
		p.metrics.V6ToV4.Add(1)
	}
	metrics.RecordTranslated(pkt.Direction)
}

func (p *Pipeline) write(out []core.TranslatedPacket) error {
	if p.sink == nil {
		return nil
	}
	for i := range out {
		if out[i].Dropped() {
			continue
		}
		if err := p.sink.WritePacket(out[i]); err != nil {
			p.metrics.WriteErrors.Add(1)
			return fmt.Errorf("write packet %d: %w", out[i].Seq, err)
		}
		p.metrics.Written.Add(1)
	}
	return nil
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.snapshot()
}
