// Package metrics exposes ploke's Prometheus instrumentation: File I/O
// Engine write latency and outcomes, Approval Executor apply outcomes,
// State Manager mailbox depth, and tool-call outcomes. Mirrors
// internal/logging's package-level-singleton idiom (Get/Initialize)
// rather than threading a recorder through every constructor, so
// instrumentation call sites stay a one-line addition.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	fioWriteDuration *prometheus.HistogramVec
	fioWriteTotal    *prometheus.CounterVec
	applyTotal       *prometheus.CounterVec
	mailboxDepth     prometheus.Gauge
	toolCallTotal    *prometheus.CounterVec
	eventDropped     *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	fioWriteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ploke",
		Subsystem: "fio",
		Name:      "write_duration_seconds",
		Help:      "write_batch latency per file, from splice through fsync-rename.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	fioWriteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ploke",
		Subsystem: "fio",
		Name:      "writes_total",
		Help:      "Total per-file write_batch writes by outcome.",
	}, []string{"outcome"})

	applyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ploke",
		Subsystem: "executor",
		Name:      "apply_total",
		Help:      "Total Approval Executor Apply calls by outcome.",
	}, []string{"outcome"})

	mailboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ploke",
		Subsystem: "statemgr",
		Name:      "mailbox_depth",
		Help:      "Number of StateCommands currently queued in the State Manager mailbox.",
	})

	toolCallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ploke",
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Total tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	eventDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ploke",
		Subsystem: "eventbus",
		Name:      "dropped_total",
		Help:      "Events dropped because a subscriber's buffer was full.",
	}, []string{"kind"})

	registry.MustRegister(fioWriteDuration, fioWriteTotal, applyTotal, mailboxDepth, toolCallTotal, eventDropped)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveFIOWrite records the outcome of one file's write within a
// write_batch call and its latency in seconds.
func ObserveFIOWrite(seconds float64, err error) {
	o := outcome(err)
	fioWriteDuration.WithLabelValues(o).Observe(seconds)
	fioWriteTotal.WithLabelValues(o).Inc()
}

// ObserveApply records one Approval Executor Apply outcome.
func ObserveApply(err error) {
	applyTotal.WithLabelValues(outcome(err)).Inc()
}

// SetMailboxDepth reports the State Manager's current queue depth.
func SetMailboxDepth(n int) {
	mailboxDepth.Set(float64(n))
}

// ObserveToolCall records one tool invocation's outcome.
func ObserveToolCall(tool string, err error) {
	toolCallTotal.WithLabelValues(tool, outcome(err)).Inc()
}

// ObserveEventDropped records one dropped SystemEvent for kind.
func ObserveEventDropped(kind string) {
	eventDropped.WithLabelValues(kind).Inc()
}

// Handler returns the /metrics HTTP handler for the registry, served by
// cmd/ploke's serve-metrics command.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
