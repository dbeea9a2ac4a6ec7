package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the event pipeline
type Metrics struct {
	EventsReceived    *prometheus.CounterVec
	EventsDuplicate   prometheus.Counter
	EventsEcho        prometheus.Counter
	EventsDropped     *prometheus.CounterVec
	DispatchesArmed   prometheus.Counter
	DispatchesFired   prometheus.Counter
	DispatchCancelled prometheus.Counter
	Escalations       prometheus.Counter
	FanoutEvents      *prometheus.CounterVec
	AssistantDuration prometheus.Histogram
	AssistantFailures prometheus.Counter
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics returns the singleton pipeline metrics
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "webhook_events_received_total",
				Help: "Total number of webhook events received, by source",
			}, []string{"source"}),
			EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
				Name: "webhook_events_duplicate_total",
				Help: "Total number of redelivered events suppressed by deduplication",
			}),
			EventsEcho: promauto.NewCounter(prometheus.CounterOpts{
				Name: "webhook_events_echo_total",
				Help: "Total number of self-echo events discarded",
			}),
			EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "webhook_events_dropped_total",
				Help: "Total number of events dropped, by reason",
			}, []string{"reason"}),
			DispatchesArmed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "assistant_dispatches_armed_total",
				Help: "Total number of debounce timers armed or re-armed",
			}),
			DispatchesFired: promauto.NewCounter(prometheus.CounterOpts{
				Name: "assistant_dispatches_fired_total",
				Help: "Total number of assistant dispatches fired",
			}),
			DispatchCancelled: promauto.NewCounter(prometheus.CounterOpts{
				Name: "assistant_dispatches_cancelled_total",
				Help: "Total number of pending dispatches cancelled before firing",
			}),
			Escalations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "conversation_escalations_total",
				Help: "Total number of conversations escalated from chatbot to human",
			}),
			FanoutEvents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fanout_events_total",
				Help: "Total number of realtime events broadcast to staff clients, by type",
			}, []string{"type"}),
			AssistantDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "assistant_call_duration_seconds",
				Help:    "Time taken by assistant collaborator calls",
				Buckets: prometheus.DefBuckets,
			}),
			AssistantFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "assistant_call_failures_total",
				Help: "Total number of failed assistant collaborator calls",
			}),
		}
	})
	return metrics
}
