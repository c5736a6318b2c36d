package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors for the client pipeline,
// registered on the default registry.
var (
	PollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "raksha",
		Subsystem: "track",
		Name:      "poll_ticks_total",
		Help:      "Number of polling timer ticks fired.",
	})
	FixErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "raksha",
		Subsystem: "track",
		Name:      "fix_errors_total",
		Help:      "Number of position reads that failed (transient; polling continues).",
	})
	PublishOk = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "raksha",
		Subsystem: "ingest",
		Name:      "publish_total",
		Help:      "Number of accepted per-device location publishes.",
	})
	PublishFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "raksha",
		Subsystem: "ingest",
		Name:      "publish_failed_total",
		Help:      "Number of per-device publishes rejected or errored.",
	})
	FramesDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "raksha",
		Subsystem: "evmux",
		Name:      "frames_dispatched_total",
		Help:      "Number of inbound event frames fanned out to handlers.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "raksha",
		Subsystem: "evmux",
		Name:      "reconnects_total",
		Help:      "Number of transport reconnect attempts.",
	})
	NotificationsShown = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "raksha",
		Subsystem: "notify",
		Name:      "shown_total",
		Help:      "Number of notifications materialized (including same-tag replacements).",
	})
)

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
