package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeltasApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_deltas_applied_total",
		Help: "Socket deltas applied to the conversation store, by event.",
	}, []string{"event"})

	DuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_duplicate_messages_dropped_total",
		Help: "Incoming messages dropped because the buffer already held the id.",
	})

	RefetchesTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_refetches_triggered_total",
		Help: "Full refetches triggered by deltas for unknown conversations.",
	})

	RefetchesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_refetches_suppressed_total",
		Help: "Refetch triggers dropped by the rate limiter.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_socket_reconnects_total",
		Help: "Successful socket reconnections after a drop.",
	})

	TypingExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_typing_expirations_total",
		Help: "Remote typing entries evicted by the defensive timeout.",
	})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
