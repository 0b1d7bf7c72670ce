package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(reg)

	// Record some values so metrics appear in Gather()
	RecordWebhook("payment_paid", "ok", 10*time.Millisecond)
	RecordTransition("payment_paid", "applied")
	RecordOrderRetry()
	RecordPushBatch(5*time.Millisecond, 1, 0, 1)
	RecordTokenRetired(true)
	RecordChargeTask(true)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	registered := make(map[string]bool)
	for _, mf := range families {
		registered[mf.GetName()] = true
	}

	for _, expected := range []string{
		"payhook_webhooks_total",
		"payhook_webhook_latency_seconds",
		"payhook_order_transitions_total",
		"payhook_order_update_retries_total",
		"payhook_push_tokens_total",
		"payhook_push_batch_latency_seconds",
		"payhook_tokens_retired_total",
		"payhook_charge_tasks_total",
	} {
		if !registered[expected] {
			t.Errorf("Expected metric %s not found in registry", expected)
		}
	}
}

func TestRecordWebhook(t *testing.T) {
	WebhooksTotal.Reset()

	RecordWebhook("payment_paid", "ok", time.Millisecond)
	RecordWebhook("payment_paid", "ok", time.Millisecond)
	RecordWebhook("", "unauthorized", time.Millisecond)

	if got := testutil.ToFloat64(WebhooksTotal.WithLabelValues("payment_paid", "ok")); got != 2 {
		t.Errorf("payment_paid/ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(WebhooksTotal.WithLabelValues("none", "unauthorized")); got != 1 {
		t.Errorf("none/unauthorized = %v, want 1", got)
	}
}

func TestRecordPushBatch(t *testing.T) {
	PushTokensTotal.Reset()

	RecordPushBatch(time.Millisecond, 2, 1, 3)

	tests := []struct {
		outcome string
		want    float64
	}{
		{"delivered", 2},
		{"retryable", 1},
		{"permanent", 3},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			if got := testutil.ToFloat64(PushTokensTotal.WithLabelValues(tt.outcome)); got != tt.want {
				t.Errorf("PushTokensTotal{%s} = %v, want %v", tt.outcome, got, tt.want)
			}
		})
	}
}

func TestRecordTokenRetiredAndChargeTask(t *testing.T) {
	TokensRetiredTotal.Reset()
	ChargeTasksTotal.Reset()

	RecordTokenRetired(true)
	RecordTokenRetired(false)
	RecordChargeTask(false)

	if got := testutil.ToFloat64(TokensRetiredTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("TokensRetiredTotal{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(TokensRetiredTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("TokensRetiredTotal{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ChargeTasksTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("ChargeTasksTotal{error} = %v, want 1", got)
	}
}
