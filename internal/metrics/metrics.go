package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mini-oms/internal/domain"
)

var (
	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_lifecycle_transitions_total",
			Help: "Order and payment lifecycle transitions by outcome",
		},
		[]string{"transition", "outcome"},
	)

	replays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_idempotent_replays_total",
			Help: "Keyed requests answered from a previous result",
		},
		[]string{"operation", "source"},
	)

	outboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oms_outbox_published_total",
			Help: "Outbox events handed to the publisher",
		},
		[]string{"topic", "outcome"},
	)
)

// Outcome labels err by its kind, or "ok".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}

func Transition(name string, err error) {
	transitions.WithLabelValues(name, Outcome(err)).Inc()
}

// Replay counts a keyed request served from the cache or the database.
func Replay(operation, source string) {
	replays.WithLabelValues(operation, source).Inc()
}

func Published(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	outboxPublished.WithLabelValues(topic, outcome).Inc()
}
