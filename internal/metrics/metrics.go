package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the client.
type Metrics struct {
	APIRequests          *prometheus.CounterVec
	APILatency           *prometheus.HistogramVec
	PollTicks            *prometheus.CounterVec
	StaleResponses       *prometheus.CounterVec
	SessionInvalidations prometheus.Counter
	MessagesSent         *prometheus.CounterVec
	OrdersSubmitted      *prometheus.CounterVec
	WebhookEvents        *prometheus.CounterVec
	Errors               *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
// The namespace of the first call wins.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total marketplace API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			APILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Latency distribution for marketplace API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			PollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_poll_ticks_total",
				Help:      "Conversation poll ticks by outcome.",
			}, []string{"outcome"}),
			StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_responses_dropped_total",
				Help:      "Responses discarded because the view they were requested for has changed.",
			}, []string{"component"}),
			SessionInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_invalidations_total",
				Help:      "Sessions cleared after an unauthorized response.",
			}),
			MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Messages sent by outcome.",
			}, []string{"status"}),
			OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_submitted_total",
				Help:      "Order submissions by payment method and outcome.",
			}, []string{"method", "status"}),
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_webhook_events_total",
				Help:      "Payment webhook events by payment status.",
			}, []string{"status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.APIRequests,
			metricsInstance.APILatency,
			metricsInstance.PollTicks,
			metricsInstance.StaleResponses,
			metricsInstance.SessionInvalidations,
			metricsInstance.MessagesSent,
			metricsInstance.OrdersSubmitted,
			metricsInstance.WebhookEvents,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
