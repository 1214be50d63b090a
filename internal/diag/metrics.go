// Package diag exposes the optional debug surface of the bot process: a
// Prometheus metric set and a small HTTP server carrying /healthz and
// /metrics. Nothing here is on the hot path; the server only starts when a
// debug address is configured.
package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts codex runs that reached a started process.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vibes_runs_started_total",
		Help: "Number of codex runs started.",
	})

	// RunsFinished counts finished runs by outcome: success, stopped, error.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibes_runs_finished_total",
		Help: "Number of codex runs finished, labeled by outcome.",
	}, []string{"outcome"})

	// StreamEdits counts live-stream message edits by result.
	StreamEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibes_stream_edits_total",
		Help: "Number of stream message edits, labeled by result.",
	}, []string{"result"})

	// TransportRetries counts rate-limit waits against the chat API.
	TransportRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vibes_transport_retries_total",
		Help: "Number of rate-limited retries against the Telegram API.",
	})
)
