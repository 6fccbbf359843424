// Package metrics holds the Prometheus metrics of the translator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/xlat/internal/core"
	"firestige.xyz/xlat/internal/core/protocols"
)

var (
	// PacketsTotal counts packets read from the source, by input version.
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xlat_packets_total",
			Help: "Total number of packets handed to the translator",
		},
		[]string{"version"},
	)

	// TranslatedTotal counts packets translated, by direction.
	TranslatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xlat_translated_packets_total",
			Help: "Total number of packets translated",
		},
		[]string{"direction"},
	)

	// DropsTotal counts dropped packets by reason.
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xlat_dropped_packets_total",
			Help: "Total number of packets dropped",
		},
		[]string{"reason"},
	)

	// TranslateLatencySeconds measures the time spent translating one batch.
	TranslateLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xlat_batch_latency_seconds",
			Help:    "Latency of translating one batch in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// BatchSize tracks the number of packets per batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xlat_batch_size",
			Help:    "Number of packets per translated batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
	)
)

// RecordPacket counts one packet of IP version v handed to translation.
func RecordPacket(v protocols.Version) {
	PacketsTotal.WithLabelValues(v.String()).Inc()
}

// RecordTranslated counts one translated packet.
func RecordTranslated(dir core.Direction) {
	TranslatedTotal.WithLabelValues(string(dir)).Inc()
}

// RecordDrop counts one packet dropped with err.
func RecordDrop(err error) {
	DropsTotal.WithLabelValues(core.DropReason(err)).Inc()
}
