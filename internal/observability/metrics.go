package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simlink",
			Subsystem: "dispatch",
			Name:      "ticks_total",
			Help:      "Completed ticks by the opcode that ended them.",
		},
		[]string{"end"},
	)
	opcodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simlink",
			Subsystem: "dispatch",
			Name:      "opcodes_total",
			Help:      "Opcodes received on the command channel.",
		},
		[]string{"opcode"},
	)
	lookupMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simlink",
			Subsystem: "dispatch",
			Name:      "lookup_misses_total",
			Help:      "Paths that resolved nowhere, by lookup kind.",
		},
		[]string{"kind"},
	)
	spins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simlink",
			Subsystem: "channel",
			Name:      "spins_total",
			Help:      "Failed polls while waiting on a shared channel.",
		},
		[]string{"channel"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ticks, opcodes, lookupMisses, spins)
	})
}

func RecordTick(end string) {
	RegisterMetrics()
	ticks.WithLabelValues(end).Inc()
}

func RecordOpcode(op string) {
	RegisterMetrics()
	opcodes.WithLabelValues(op).Inc()
}

func RecordLookupMiss(kind string) {
	RegisterMetrics()
	lookupMisses.WithLabelValues(kind).Inc()
}

// SpinCounter returns a counter bound to one channel label so the spin hook
// does no label lookup per poll.
func SpinCounter(channel string) prometheus.Counter {
	RegisterMetrics()
	return spins.WithLabelValues(channel)
}
