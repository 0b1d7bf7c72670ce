package order

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/payhook/internal/event"
	"github.com/austindbirch/payhook/internal/fault"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/metrics"
	"github.com/austindbirch/payhook/internal/tracing"
)

// Result is the outcome of applying one event.
type Result struct {
	Applied bool  // false for no-op and ignored transitions
	Order   Order // order state after the event
}

type UpdaterConfig struct {
	MaxAttempts     int
	BackoffSchedule []time.Duration
	JitterPercent   float64
}

// Updater applies the payment transition table. Transitions only move
// forward: once an order is paid, later events cannot change its status.
type Updater struct {
	store  Store
	cfg    UpdaterConfig
	logger *logging.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewUpdater(store Store, cfg UpdaterConfig, logger *logging.Logger) *Updater {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if len(cfg.BackoffSchedule) == 0 {
		cfg.BackoffSchedule = []time.Duration{100 * time.Millisecond}
	}
	return &Updater{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepCtx,
	}
}

// Apply loads the order named by evt and writes the transition for its kind.
// A missing order yields an OrderNotFound fault; store failures that persist
// across retries yield an OrderUpdate fault.
func (u *Updater) Apply(ctx context.Context, evt event.Event) (Result, error) {
	orderID := evt.Attributes.Metadata.OrderID
	ctx, span := tracing.StartSpan(ctx, "order.apply",
		attribute.String("order_id", orderID),
		attribute.String("event_kind", string(evt.Kind)),
	)
	defer span.End()

	res, result, err := u.apply(ctx, evt)
	metrics.RecordTransition(string(evt.Kind), result)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	tracing.AddSpanEvent(ctx, "order."+result, attribute.String("status", string(res.Order.Status)))
	return res, nil
}

func (u *Updater) apply(ctx context.Context, evt event.Event) (Result, string, error) {
	orderID := evt.Attributes.Metadata.OrderID

	var current Order
	err := u.retry(ctx, orderID, func(ctx context.Context) error {
		o, err := u.store.Get(ctx, orderID)
		current = o
		return err
	})
	if err != nil {
		return Result{}, failureResult(err), u.storeFault(err, orderID)
	}

	patch, ok := u.transition(evt, current)
	if !ok {
		result := "noop"
		if evt.Kind == event.PaymentFailed && current.Status == StatusPaid {
			result = "ignored"
			u.logger.WithContext(ctx).WithOrder(orderID).
				WithEvent(evt.ID, string(evt.Kind)).
				Warn("payment failure arrived after payment success; keeping order paid")
		}
		return Result{Order: current}, result, nil
	}

	err = u.retry(ctx, orderID, func(ctx context.Context) error {
		return u.store.Update(ctx, orderID, patch)
	})
	if errors.Is(err, ErrConflict) {
		// Lost a race with a success event; report what is stored now.
		latest, getErr := u.store.Get(ctx, orderID)
		if getErr != nil {
			return Result{}, failureResult(getErr), u.storeFault(getErr, orderID)
		}
		result := "ignored"
		if evt.Kind == event.PaymentPaid {
			result = "noop"
		}
		return Result{Order: latest}, result, nil
	}
	if err != nil {
		return Result{}, failureResult(err), u.storeFault(err, orderID)
	}
	return Result{Applied: true, Order: patch.Apply(current)}, "applied", nil
}

// transition returns the patch evt implies for o, or false when nothing
// should be written.
func (u *Updater) transition(evt event.Event, o Order) (Patch, bool) {
	now := u.now()
	attrs := evt.Attributes

	switch evt.Kind {
	case event.PaymentPaid:
		if o.Status == StatusPaid {
			return Patch{}, false
		}
		p := Patch{
			Status:        StatusPaid,
			PaymentStatus: PaymentCompleted,
			PaymentID:     evt.PaymentID(),
			Currency:      attrs.Currency,
			PaidAt:        &now,
			UpdatedAt:     now,
			UnlessStatus:  StatusPaid,
		}
		// Events without an amount keep the order's own.
		if attrs.Amount > 0 {
			amount := attrs.Amount
			p.Amount = &amount
		}
		return p, true

	case event.PaymentFailed:
		if o.Status == StatusPaid || o.Status == StatusPaymentFailed {
			return Patch{}, false
		}
		reason := attrs.Metadata.FailureReason
		if reason == "" {
			reason = attrs.Status
		}
		return Patch{
			Status:        StatusPaymentFailed,
			PaymentStatus: PaymentFailed,
			FailureReason: reason,
			FailedAt:      &now,
			UpdatedAt:     now,
			UnlessStatus:  StatusPaid,
		}, true
	}

	// source_chargeable and unknown kinds never touch the order.
	return Patch{}, false
}

// retry runs op until it succeeds, returns a terminal error, or attempts run out.
func (u *Updater) retry(ctx context.Context, orderID string, op func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == u.cfg.MaxAttempts {
			break
		}
		delay := computeDelay(attempt, u.cfg.BackoffSchedule, u.cfg.JitterPercent)
		u.logger.WithContext(ctx).WithOrder(orderID).WithError(err).
			WithField("attempt", attempt).WithField("delay_ms", delay.Milliseconds()).
			Warn("order store call failed, retrying")
		metrics.RecordOrderRetry()
		if sleepErr := u.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}

func (u *Updater) storeFault(err error, orderID string) error {
	md := map[string]any{"order_id": orderID}
	if errors.Is(err, ErrNotFound) {
		return fault.Wrap(err, fault.OrderNotFound, "order "+orderID+" not found", md)
	}
	return fault.Wrap(err, fault.OrderUpdate, "failed to update order "+orderID, md)
}

func failureResult(err error) string {
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func computeDelay(attempt int, schedule []time.Duration, jitterPct float64) time.Duration {
	// attempt is 1-based; map to schedule index
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	// jitter: +/- jitterPct
	j := 1 + (rand.Float64()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
