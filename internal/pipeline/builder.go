package pipeline

import (
	"firestige.xyz/xlat/internal/log"
	"firestige.xyz/xlat/internal/translator"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			Workers:   1,
			BatchSize: DefaultBatchSize,
			Headroom:  DefaultHeadroom,
			DropLog:   DropLogLimiterConfig{MaxPerReason: 10},
		},
	}
}

func (b *Builder) WithSource(s Source) *Builder {
	b.config.Source = s
	return b
}

func (b *Builder) WithSink(s Sink) *Builder {
	b.config.Sink = s
	return b
}

func (b *Builder) WithMapper(m translator.AddressMapper) *Builder {
	b.config.Mapper = m
	return b
}

func (b *Builder) WithOptions(opts translator.Options) *Builder {
	b.config.Options = opts
	return b
}

func (b *Builder) WithWorkers(n int) *Builder {
	b.config.Workers = n
	return b
}

func (b *Builder) WithBatchSize(size int) *Builder {
	b.config.BatchSize = size
	return b
}

func (b *Builder) WithHeadroom(n int) *Builder {
	b.config.Headroom = n
	return b
}

func (b *Builder) WithDropLog(cfg DropLogLimiterConfig) *Builder {
	b.config.DropLog = cfg
	return b
}

func (b *Builder) WithLogger(l log.Logger) *Builder {
	b.config.Logger = l
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.config)
}
