package notify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/austindbirch/payhook/internal/device"
	"github.com/austindbirch/payhook/internal/fault"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/metrics"
	"github.com/austindbirch/payhook/internal/push"
	"github.com/austindbirch/payhook/internal/tracing"
)

// Result summarizes delivery to one recipient.
type Result struct {
	RecipientID string
	Role        Role
	Skipped     bool // registry unavailable
	Tokens      []push.TokenResult
	Retired     int
	Err         error // NotificationDelivery fault, never surfaced to the caller
}

// Count returns how many tokens ended with the given outcome.
func (r Result) Count(o push.Outcome) int {
	n := 0
	for _, t := range r.Tokens {
		if t.Outcome == o {
			n++
		}
	}
	return n
}

type Dispatcher struct {
	tokens *device.Manager
	pusher push.Pusher
	logger *logging.Logger
}

func NewDispatcher(tokens *device.Manager, pusher push.Pusher, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{tokens: tokens, pusher: pusher, logger: logger}
}

// DispatchAll delivers every notification concurrently and waits for all of
// them. Results are in input order. One recipient's failure never affects
// another's.
func (d *Dispatcher) DispatchAll(ctx context.Context, batch []Addressed) []Result {
	results := make([]Result, len(batch))
	var g errgroup.Group
	for i, a := range batch {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{
						RecipientID: a.RecipientID,
						Role:        a.Role,
						Err: fault.New(fault.NotificationDelivery, fmt.Sprintf("dispatch panicked: %v", r),
							map[string]any{"recipient_id": a.RecipientID}),
					}
				}
			}()
			results[i] = d.Dispatch(ctx, a.RecipientID, a.Notification)
			results[i].Role = a.Role
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Dispatch sends n to every active token of recipientID in one batched call,
// then retires the tokens the gateway reported as permanently invalid.
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID string, n Notification) Result {
	ctx, span := tracing.StartSpan(ctx, "notify.dispatch",
		attribute.String("recipient_id", recipientID),
		attribute.String("notification_id", n.ID),
	)
	defer span.End()

	res := Result{RecipientID: recipientID}
	log := func() *logging.LogEntry {
		return d.logger.WithContext(ctx).WithRecipient(recipientID).
			WithOrder(n.Data["orderId"]).WithField("notification_id", n.ID)
	}

	tokens, ok := d.tokens.Resolve(ctx, recipientID)
	if !ok {
		res.Skipped = true
		res.Err = fault.New(fault.NotificationDelivery, "device registry unavailable",
			map[string]any{"recipient_id": recipientID})
		tracing.SetSpanError(ctx, res.Err)
		return res
	}
	if len(tokens) == 0 {
		log().Debug("recipient has no active device tokens")
		return res
	}
	span.SetAttributes(attribute.Int("token_count", len(tokens)))

	start := time.Now()
	results, err := d.pusher.Send(ctx, tokens, push.Message{Title: n.Title, Body: n.Body, Data: n.Data})
	if err != nil {
		reason := push.ClassifyError(err)
		res.Tokens = make([]push.TokenResult, len(tokens))
		for i, tok := range tokens {
			res.Tokens[i] = push.TokenResult{Token: tok, Outcome: push.Retryable, Reason: reason}
		}
		res.Err = fault.Wrap(err, fault.NotificationDelivery, "push gateway call failed",
			map[string]any{"recipient_id": recipientID, "reason": reason})
		metrics.RecordPushBatch(time.Since(start), 0, len(tokens), 0)
		tracing.SetSpanError(ctx, err)
		log().WithError(err).WithField("reason", reason).WithField("tokens", len(tokens)).
			Warn("push delivery failed for all tokens")
		return res
	}
	res.Tokens = results

	var dead []string
	for _, r := range results {
		switch r.Outcome {
		case push.Permanent:
			dead = append(dead, r.Token)
		case push.Retryable:
			log().WithField("token", device.Redact(r.Token)).WithField("reason", r.Reason).
				Info("push delivery failed, token left active")
		}
	}
	metrics.RecordPushBatch(time.Since(start), res.Count(push.Delivered), res.Count(push.Retryable), len(dead))
	tracing.AddSpanEvent(ctx, "push.sent",
		attribute.Int("delivered", res.Count(push.Delivered)),
		attribute.Int("permanent", len(dead)),
	)

	if len(dead) > 0 {
		res.Retired = d.tokens.Retire(ctx, recipientID, dead)
	}
	if res.Count(push.Delivered) == 0 {
		res.Err = fault.New(fault.NotificationDelivery, "no device accepted the notification",
			map[string]any{"recipient_id": recipientID})
	}
	return res
}
