package charge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/austindbirch/payhook/internal/event"
	"github.com/austindbirch/payhook/internal/fault"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/order"
	"github.com/austindbirch/payhook/internal/tracing"
)

func chargeableEvent() event.Event {
	return event.Event{
		ID:   "src_123",
		Kind: event.SourceChargeable,
		Attributes: event.Attributes{
			Amount:   3356,
			Currency: "PHP",
			Metadata: event.Metadata{OrderID: "ORD-001"},
		},
	}
}

func TestForward_PublishesTask(t *testing.T) {
	otel.SetTracerProvider(trace.NewTracerProvider(trace.WithSyncer(tracetest.NewInMemoryExporter())))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	pub := NewMemoryPublisher()
	f := NewForwarder(pub, "charges", logging.NewWithWriter("test", &bytes.Buffer{}))
	f.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	ctx, span := tracing.StartSpan(context.Background(), "webhook")
	defer span.End()

	o := order.Order{ID: "ORD-001", CustomerID: "C1"}
	if err := f.Forward(ctx, chargeableEvent(), o); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	msgs := pub.Messages("charges")
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	var task Task
	if err := json.Unmarshal(msgs[0], &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	if task.SourceID != "src_123" || task.OrderID != "ORD-001" || task.CustomerID != "C1" {
		t.Errorf("task = %+v", task)
	}
	if task.Amount != 3356 || task.Currency != "PHP" {
		t.Errorf("amount = %d %s, want 3356 PHP", task.Amount, task.Currency)
	}
	if task.PublishedAt != "2026-03-01T00:00:00Z" {
		t.Errorf("PublishedAt = %q", task.PublishedAt)
	}
	if task.TraceHeaders["traceparent"] == "" {
		t.Error("TraceHeaders missing traceparent")
	}

	restored := tracing.ExtractMap(context.Background(), task.TraceHeaders)
	_, child := tracing.StartSpan(restored, "charge")
	defer child.End()
	if child.SpanContext().TraceID() != span.SpanContext().TraceID() {
		t.Error("trace id not carried through the task")
	}
}

func TestForward_FallsBackToOrder(t *testing.T) {
	pub := NewMemoryPublisher()
	f := NewForwarder(pub, "charges", logging.NewWithWriter("test", &bytes.Buffer{}))

	evt := event.Event{ID: "src_1", Kind: event.SourceChargeable, Attributes: event.Attributes{
		Metadata: event.Metadata{OrderID: "ORD-1"},
	}}
	o := order.Order{ID: "ORD-1", Amount: 990, Currency: "PHP"}
	if err := f.Forward(context.Background(), evt, o); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	var task Task
	_ = json.Unmarshal(pub.Messages("charges")[0], &task)
	if task.Amount != 990 || task.Currency != "PHP" {
		t.Errorf("task = %+v, want amount and currency from order", task)
	}
}

func TestForward_PublishFailure(t *testing.T) {
	pub := NewMemoryPublisher()
	pub.Err = errors.New("nsqd unreachable")
	f := NewForwarder(pub, "charges", logging.NewWithWriter("test", &bytes.Buffer{}))

	err := f.Forward(context.Background(), chargeableEvent(), order.Order{ID: "ORD-001"})
	if !fault.Is(err, fault.ChargeForward) {
		t.Fatalf("Forward() kind = %q, want %q", fault.KindOf(err), fault.ChargeForward)
	}
	if !errors.Is(err, pub.Err) {
		t.Error("Forward() error should unwrap to the publish error")
	}
}
