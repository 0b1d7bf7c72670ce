package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payhook_webhooks_total",
			Help: "Total number of webhook deliveries by event kind and outcome.",
		},
		[]string{"kind", "outcome"}, // outcome: ok, unauthorized, malformed, order_not_found, order_error, charge_error, ignored
	)

	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payhook_webhook_latency_seconds",
			Help:    "Time from request receipt to response, by event kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payhook_order_transitions_total",
			Help: "Total number of order transitions by event kind and result.",
		},
		[]string{"kind", "result"}, // result: applied, noop, ignored, not_found, error
	)

	OrderUpdateRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payhook_order_update_retries_total",
			Help: "Total number of retried order store calls.",
		},
	)

	PushTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payhook_push_tokens_total",
			Help: "Total number of push attempts per device token by outcome.",
		},
		[]string{"outcome"}, // delivered, retryable, permanent
	)

	PushBatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payhook_push_batch_latency_seconds",
			Help:    "Latency of batched push gateway calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	TokensRetiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payhook_tokens_retired_total",
			Help: "Total number of device tokens deactivated, by result.",
		},
		[]string{"result"}, // ok, error
	)

	ChargeTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payhook_charge_tasks_total",
			Help: "Total number of chargeable sources forwarded to the charge step.",
		},
		[]string{"result"}, // published, error
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		WebhooksTotal,
		WebhookLatency,
		OrderTransitionsTotal,
		OrderUpdateRetriesTotal,
		PushTokensTotal,
		PushBatchLatency,
		TokensRetiredTotal,
		ChargeTasksTotal,
	)
}

// RecordWebhook records the outcome and latency of one webhook delivery
func RecordWebhook(kind, outcome string, latency time.Duration) {
	if kind == "" {
		kind = "none"
	}
	WebhooksTotal.WithLabelValues(kind, outcome).Inc()
	WebhookLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

func RecordTransition(kind, result string) {
	OrderTransitionsTotal.WithLabelValues(kind, result).Inc()
}

func RecordOrderRetry() {
	OrderUpdateRetriesTotal.Inc()
}

// RecordPushBatch records one gateway call and the per-token outcomes it produced
func RecordPushBatch(latency time.Duration, delivered, retryable, permanent int) {
	PushBatchLatency.Observe(latency.Seconds())
	PushTokensTotal.WithLabelValues("delivered").Add(float64(delivered))
	PushTokensTotal.WithLabelValues("retryable").Add(float64(retryable))
	PushTokensTotal.WithLabelValues("permanent").Add(float64(permanent))
}

func RecordTokenRetired(ok bool) {
	if ok {
		TokensRetiredTotal.WithLabelValues("ok").Inc()
		return
	}
	TokensRetiredTotal.WithLabelValues("error").Inc()
}

func RecordChargeTask(ok bool) {
	if ok {
		ChargeTasksTotal.WithLabelValues("published").Inc()
		return
	}
	ChargeTasksTotal.WithLabelValues("error").Inc()
}
