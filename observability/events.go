package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"sorosusu/core/events"
)

type eventMetrics struct {
	events    *prometheus.CounterVec
	transfers *prometheus.CounterVec
	volume    *prometheus.CounterVec
	penalties prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured domain events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "susu",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of domain events segmented by type.",
			}, []string{"type"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "susu",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of ledger transfers segmented by token.",
			}, []string{"token"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "susu",
				Subsystem: "events",
				Name:      "contributions_total",
				Help:      "Sum of accepted contributions segmented by token, in base units.",
			}, []string{"token"}),
			penalties: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "susu",
				Subsystem: "events",
				Name:      "late_deposits_total",
				Help:      "Count of deposits made after the member deadline.",
			}),
		}
		prometheus.MustRegister(eventRegistry.events, eventRegistry.transfers, eventRegistry.volume, eventRegistry.penalties)
	})
	return eventRegistry
}

// Emit satisfies events.Emitter so the registry can sit on an event fan-out.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(evt.EventType()).Inc()
	payload, ok := evt.(events.Payload)
	if !ok || payload.Event() == nil {
		return
	}
	attrs := payload.Event().Attributes
	switch evt.EventType() {
	case events.TypeTransfer:
		m.RecordTransfer(attrs["token"])
	case "susu.contribution.deposited":
		if attrs["late"] == "true" {
			m.penalties.Inc()
		}
		if amount, ok := new(big.Int).SetString(attrs["amount"], 10); ok && amount.IsInt64() {
			m.volume.WithLabelValues(normalizeToken(attrs["token"])).Add(float64(amount.Int64()))
		}
	}
}

// RecordTransfer increments the transfer counter for the supplied token.
func (m *eventMetrics) RecordTransfer(token string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(normalizeToken(token)).Inc()
}

func normalizeToken(token string) string {
	normalized := strings.TrimSpace(strings.ToUpper(token))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	return normalized
}
