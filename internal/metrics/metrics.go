// Package metrics exposes Prometheus instrumentation for the IMAP client
// core: scheduler throughput, idle state, and download volume. Wiring is
// optional — nothing in the core requires these collectors to be scraped,
// but cmd/imapctl registers them with the default registry and serves them
// over HTTP when asked to.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsExecuted counts tagged commands by name and outcome (ok, no, bad, error).
	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goimap_commands_total",
		Help: "Total tagged IMAP commands executed, by command and outcome",
	}, []string{"command", "outcome"})

	// CommandDuration tracks round-trip latency of tagged commands by name.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goimap_command_duration_seconds",
		Help:    "Time from a command's enqueue to its tagged response, by command",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"command"})

	// QueueDepth is the number of pending requests waiting behind the
	// in-flight tagged command.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goimap_scheduler_queue_depth",
		Help: "Number of tagged commands queued behind the in-flight command",
	})

	// InFlight is 1 while a tagged command is in flight, 0 otherwise.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goimap_scheduler_in_flight",
		Help: "Whether a tagged command is currently in flight (0 or 1)",
	})

	// Idling is 1 while the connection is in the IDLE state.
	Idling = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goimap_idle_active",
		Help: "Whether the connection is currently idling (0 or 1)",
	})

	// ThrottleEvents counts ETHROTTLE rejections observed, by command.
	ThrottleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goimap_throttle_events_total",
		Help: "Total throttling responses observed, by command",
	}, []string{"command"})

	// BytesDownloaded counts decoded bytes delivered by the download pipeline.
	BytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goimap_download_bytes_total",
		Help: "Total decoded bytes delivered by the download pipeline",
	})

	// Reconnects counts connection-level teardowns (NoConnection transitions).
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goimap_connection_closed_total",
		Help: "Total number of times the connection transitioned to Logout",
	})
)

// RecordCommand records the outcome and latency of a finished tagged command.
func RecordCommand(command, outcome string, durationSeconds float64) {
	CommandsExecuted.WithLabelValues(command, outcome).Inc()
	CommandDuration.WithLabelValues(command).Observe(durationSeconds)
}

// RecordThrottle records an ETHROTTLE rejection for the given command.
func RecordThrottle(command string) {
	ThrottleEvents.WithLabelValues(command).Inc()
}

// SetIdling records whether the connection is currently idling.
func SetIdling(active bool) {
	if active {
		Idling.Set(1)
	} else {
		Idling.Set(0)
	}
}

// SetInFlight records whether a tagged command is currently in flight.
func SetInFlight(active bool) {
	if active {
		InFlight.Set(1)
	} else {
		InFlight.Set(0)
	}
}
