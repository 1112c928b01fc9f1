package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Message results.
const (
	resultProjected    = "projected"
	resultHandlerError = "handler_error"
	resultMalformed    = "malformed"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reserve_service",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Ledger notifications read from Kafka, by topic, event type and result.",
	}, []string{"topic", "event_type", "result"})

	projectionLagSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reserve_service",
		Subsystem: "consumer",
		Name:      "projection_lag_seconds",
		Help:      "Delay between a notification being produced and projected into the event log.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, projectionLagSeconds)
}

func recordProjected(msg Message, now time.Time) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, resultProjected).Inc()
	if !msg.Timestamp.IsZero() && now.After(msg.Timestamp) {
		projectionLagSeconds.WithLabelValues(msg.Topic).Observe(now.Sub(msg.Timestamp).Seconds())
	}
}

func recordHandlerError(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, resultHandlerError).Inc()
}

// recordMalformed counts a record that could not be decoded; eventType is
// whatever the header claimed, possibly empty.
func recordMalformed(topic, eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	messagesCounter.WithLabelValues(topic, eventType, resultMalformed).Inc()
}
