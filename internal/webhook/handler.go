// Package webhook is the HTTP entry point for payment processor events.
//
// A delivery moves through received, verified, decoded, order-updated,
// notified and responded. Only the first three steps decide the status code;
// notification problems are logged and never change the response.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/payhook/internal/event"
	"github.com/austindbirch/payhook/internal/fault"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/metrics"
	"github.com/austindbirch/payhook/internal/notify"
	"github.com/austindbirch/payhook/internal/order"
	"github.com/austindbirch/payhook/internal/signature"
	"github.com/austindbirch/payhook/internal/tracing"
)

const Path = "/webhooks/payments"

// OrderUpdater applies an event to its order.
type OrderUpdater interface {
	Apply(ctx context.Context, evt event.Event) (order.Result, error)
}

// Dispatcher fans notifications out to recipients.
type Dispatcher interface {
	DispatchAll(ctx context.Context, batch []notify.Addressed) []notify.Result
}

// ChargeForwarder hands chargeable sources to the charge step.
type ChargeForwarder interface {
	Forward(ctx context.Context, evt event.Event, o order.Order) error
}

type Options struct {
	Verifier        *signature.Verifier
	SignatureHeader string
	MaxBodyBytes    int64
	Updater         OrderUpdater
	Composer        *notify.Composer
	Dispatcher      Dispatcher
	Charges         ChargeForwarder // nil disables forwarding
	NotifyTimeout   time.Duration
	Logger          *logging.Logger
}

type Handler struct {
	opts Options
}

func NewHandler(opts Options) *Handler {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "Paymongo-Signature"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	return &Handler{opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := tracing.ExtractHTTP(r.Context(), r.Header)
	ctx, span := tracing.StartSpan(ctx, "webhook.receive",
		attribute.String("http.method", r.Method),
		attribute.String("http.route", Path),
	)
	defer span.End()

	kind, err := h.handle(ctx, w, r)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		entry := h.opts.Logger.WithContext(ctx).WithError(err).WithField("error_kind", string(fault.KindOf(err)))
		if fault.Status(err) >= http.StatusInternalServerError {
			entry.Error("webhook rejected")
		} else {
			entry.Warn("webhook rejected")
		}
		if fault.Is(err, fault.MethodNotAllowed) {
			w.Header().Set("Allow", http.MethodPost)
		}
		fault.WriteHTTP(w, err)
		metrics.RecordWebhook(string(kind), outcomeOf(err), time.Since(start))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
	outcome := "ok"
	if kind == event.Unknown {
		outcome = "ignored"
	}
	metrics.RecordWebhook(string(kind), outcome, time.Since(start))
}

// handle runs the pipeline up to the response. A nil error means 200.
func (h *Handler) handle(ctx context.Context, w http.ResponseWriter, r *http.Request) (event.Kind, error) {
	if r.Method != http.MethodPost {
		return "", fault.New(fault.MethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method), nil)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", fault.New(fault.MalformedPayload,
				fmt.Sprintf("body exceeds %d bytes", h.opts.MaxBodyBytes), nil)
		}
		return "", fault.Wrap(err, fault.MalformedPayload, "failed to read body", nil)
	}

	// received -> verified
	sig := r.Header.Get(h.opts.SignatureHeader)
	if sig == "" {
		return "", fault.New(fault.Authentication, "missing "+h.opts.SignatureHeader+" header", nil)
	}
	if !h.opts.Verifier.Verify(body, sig) {
		return "", fault.New(fault.Authentication, "invalid webhook signature", nil)
	}
	tracing.AddSpanEvent(ctx, "webhook.verified")

	// verified -> decoded
	evt, err := event.Decode(body)
	if err != nil {
		return "", err
	}
	log := h.opts.Logger.WithContext(ctx).WithEvent(evt.ID, string(evt.Kind)).
		WithOrder(evt.Attributes.Metadata.OrderID)
	if evt.Kind == event.Unknown {
		log.WithField("event_type", evt.Type).Info("ignoring unsupported event type")
		return evt.Kind, nil
	}

	// decoded -> order-updated
	res, err := h.opts.Updater.Apply(ctx, evt)
	if err != nil {
		return evt.Kind, err
	}
	log.WithField("applied", res.Applied).WithField("status", string(res.Order.Status)).
		Info("order updated")

	if evt.Kind == event.SourceChargeable && h.opts.Charges != nil {
		if err := h.opts.Charges.Forward(ctx, evt, res.Order); err != nil {
			return evt.Kind, err
		}
	}

	// order-updated -> notified. Replays and ignored events send nothing.
	if res.Applied {
		h.notify(ctx, log, evt, res.Order)
	}
	return evt.Kind, nil
}

func (h *Handler) notify(ctx context.Context, log *logging.LogEntry, evt event.Event, o order.Order) {
	if h.opts.Composer == nil || h.opts.Dispatcher == nil {
		return
	}
	batch := h.opts.Composer.Compose(evt.Kind, o, evt.Attributes)
	if len(batch) == 0 {
		log.Warn("no notification recipients for event")
		return
	}

	// The sender may hang up once it has the order outcome; delivery should
	// still finish within its own budget.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.NotifyTimeout)
	defer cancel()

	for _, r := range h.opts.Dispatcher.DispatchAll(nctx, batch) {
		entry := h.opts.Logger.WithContext(ctx).WithEvent(evt.ID, string(evt.Kind)).
			WithOrder(o.ID).WithRecipient(r.RecipientID).
			WithField("role", string(r.Role)).
			WithField("tokens", len(r.Tokens)).
			WithField("retired", r.Retired)
		if r.Err != nil {
			entry.WithError(r.Err).WithField("error_kind", string(fault.NotificationDelivery)).
				Warn("notification not delivered")
			continue
		}
		entry.Info("notification dispatched")
	}
}

func outcomeOf(err error) string {
	switch fault.KindOf(err) {
	case fault.Authentication:
		return "unauthorized"
	case fault.MalformedPayload:
		return "malformed"
	case fault.OrderNotFound:
		return "order_not_found"
	case fault.OrderUpdate:
		return "order_error"
	case fault.ChargeForward:
		return "charge_error"
	case fault.MethodNotAllowed:
		return "method_not_allowed"
	}
	return "error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
