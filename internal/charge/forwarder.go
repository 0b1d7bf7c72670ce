// Package charge hands chargeable payment sources to the charge step over NSQ.
package charge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/payhook/internal/event"
	"github.com/austindbirch/payhook/internal/fault"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/metrics"
	"github.com/austindbirch/payhook/internal/order"
	"github.com/austindbirch/payhook/internal/tracing"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type Forwarder struct {
	pub    Publisher
	topic  string
	logger *logging.Logger
	now    func() time.Time
}

func NewForwarder(pub Publisher, topic string, logger *logging.Logger) *Forwarder {
	return &Forwarder{
		pub:    pub,
		topic:  topic,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Forward publishes a Task for evt. The order supplies amount and customer
// when the event omits them.
func (f *Forwarder) Forward(ctx context.Context, evt event.Event, o order.Order) error {
	ctx, span := tracing.StartSpan(ctx, "charge.forward",
		attribute.String("order_id", o.ID),
		attribute.String("topic", f.topic),
	)
	defer span.End()

	task := Task{
		EventID:      evt.ID,
		SourceID:     evt.PaymentID(),
		OrderID:      o.ID,
		CustomerID:   evt.Attributes.Metadata.CustomerID,
		Amount:       evt.Attributes.Amount,
		Currency:     evt.Attributes.Currency,
		PublishedAt:  f.now().Format(time.RFC3339),
		TraceHeaders: tracing.InjectMap(ctx),
	}
	if task.CustomerID == "" {
		task.CustomerID = o.CustomerID
	}
	if task.Amount == 0 {
		task.Amount = o.Amount
	}
	if task.Currency == "" {
		task.Currency = o.Currency
	}

	b, err := json.Marshal(task)
	if err == nil {
		err = f.pub.Publish(f.topic, b)
	}
	metrics.RecordChargeTask(err == nil)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fault.Wrap(err, fault.ChargeForward, "failed to forward chargeable source",
			map[string]any{"order_id": o.ID, "topic": f.topic})
	}

	f.logger.WithContext(ctx).WithEvent(evt.ID, string(evt.Kind)).WithOrder(o.ID).
		WithField("topic", f.topic).Info("forwarded chargeable source")
	return nil
}

// MemoryPublisher records published messages. Used by tests and when no
// nsqd address is configured.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	Err      error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: make(map[string][][]byte)}
}

func (p *MemoryPublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages[topic] = append(p.messages[topic], append([]byte(nil), body...))
	return nil
}

// Messages returns the bodies published to topic.
func (p *MemoryPublisher) Messages(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.messages[topic]...)
}
