// Package telemetry exposes service counters and gauges on the default
// Prometheus registry; the HTTP layer serves them at /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyloop_events_received_total",
		Help: "Inbound webhook events by kind (message, attachment, postback).",
	}, []string{"kind"})

	RepliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replyloop_replies_sent_total",
		Help: "Outbound replies acknowledged by the platform.",
	})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replyloop_send_failures_total",
		Help: "Outbound replies that failed to deliver.",
	})

	SendersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replyloop_senders_evicted_total",
		Help: "Sender state entries removed by the janitor.",
	})

	ActiveSenders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replyloop_active_senders",
		Help: "Sender state entries currently tracked.",
	})

	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replyloop_reply_pool_size",
		Help: "Reply templates currently loaded.",
	})

	PoolReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replyloop_reply_pool_reloads_total",
		Help: "Forced reloads of the reply pool.",
	})
)
