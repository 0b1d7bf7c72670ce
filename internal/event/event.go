// Package event decodes payment processor webhook bodies into typed events.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/austindbirch/payhook/internal/fault"
)

type Kind string

const (
	PaymentPaid      Kind = "payment_paid"
	PaymentFailed    Kind = "payment_failed"
	SourceChargeable Kind = "source_chargeable"
	Unknown          Kind = "unknown"
)

var wireKinds = map[string]Kind{
	"payment.paid":      PaymentPaid,
	"payment.failed":    PaymentFailed,
	"source.chargeable": SourceChargeable,
}

// KindFromWire maps the processor's dotted event type to a Kind.
func KindFromWire(t string) Kind {
	if k, ok := wireKinds[strings.ToLower(strings.TrimSpace(t))]; ok {
		return k
	}
	return Unknown
}

// WireType is the inverse of KindFromWire. Unknown maps to "".
func WireType(k Kind) string {
	for wire, kind := range wireKinds {
		if kind == k {
			return wire
		}
	}
	return ""
}

type Metadata struct {
	OrderID       string
	CustomerID    string
	VendorID      string
	PaymentID     string
	FailureReason string
}

type Attributes struct {
	Amount   int64 // minor currency units
	Currency string
	Status   string
	Metadata Metadata
}

type Event struct {
	ID         string
	Type       string // wire type as received
	Kind       Kind
	Attributes Attributes
}

// Envelope is the wire shape of a webhook body.
type Envelope struct {
	Data Data `json:"data"`
}

type Data struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes WireAttributes `json:"attributes"`
}

type WireAttributes struct {
	Amount   json.Number    `json:"amount,omitempty"`
	Currency string         `json:"currency,omitempty"`
	Status   string         `json:"status,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Decode parses body into an Event. Events of a known kind must carry
// metadata.orderId; unknown kinds decode without that check.
func Decode(body []byte) (Event, error) {
	var env struct {
		Data *Data `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return Event{}, fault.Wrap(err, fault.MalformedPayload, "body is not valid JSON", nil)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Event{}, fault.New(fault.MalformedPayload, "trailing data after JSON body", nil)
	}
	if env.Data == nil {
		return Event{}, fault.New(fault.MalformedPayload, "missing data object", nil)
	}
	if env.Data.Type == "" {
		return Event{}, fault.New(fault.MalformedPayload, "missing data.type", nil)
	}

	amount, err := parseAmount(env.Data.Attributes.Amount)
	if err != nil {
		return Event{}, fault.Wrap(err, fault.MalformedPayload, "invalid amount", nil)
	}

	md := env.Data.Attributes.Metadata
	evt := Event{
		ID:   env.Data.ID,
		Type: env.Data.Type,
		Kind: KindFromWire(env.Data.Type),
		Attributes: Attributes{
			Amount:   amount,
			Currency: strings.ToUpper(env.Data.Attributes.Currency),
			Status:   env.Data.Attributes.Status,
			Metadata: Metadata{
				OrderID:       metaString(md, "orderId"),
				CustomerID:    metaString(md, "customerId"),
				VendorID:      metaString(md, "vendorId"),
				PaymentID:     metaString(md, "paymentId"),
				FailureReason: metaString(md, "failureReason"),
			},
		},
	}

	if evt.Kind != Unknown && evt.Attributes.Metadata.OrderID == "" {
		return Event{}, fault.New(fault.MalformedPayload, "missing metadata.orderId",
			map[string]any{"event_id": evt.ID, "event_type": evt.Type})
	}
	return evt, nil
}

// PaymentID returns metadata.paymentId, falling back to the event id.
func (e Event) PaymentID() string {
	if e.Attributes.Metadata.PaymentID != "" {
		return e.Attributes.Metadata.PaymentID
	}
	return e.ID
}

// Encode renders an event in the wire shape accepted by Decode.
func Encode(e Event) ([]byte, error) {
	typ := e.Type
	if typ == "" {
		typ = WireType(e.Kind)
	}
	md := map[string]any{}
	put := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	put("orderId", e.Attributes.Metadata.OrderID)
	put("customerId", e.Attributes.Metadata.CustomerID)
	put("vendorId", e.Attributes.Metadata.VendorID)
	put("paymentId", e.Attributes.Metadata.PaymentID)
	put("failureReason", e.Attributes.Metadata.FailureReason)

	return json.Marshal(Envelope{Data: Data{
		ID:   e.ID,
		Type: typ,
		Attributes: WireAttributes{
			Amount:   json.Number(strconv.FormatInt(e.Attributes.Amount, 10)),
			Currency: e.Attributes.Currency,
			Status:   e.Attributes.Status,
			Metadata: md,
		},
	}})
}

func parseAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		if i < 0 {
			return 0, fmt.Errorf("amount %s is negative", n)
		}
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("amount %s is not in minor units", n)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f < 0 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("amount %s is out of range", n)
	}
	return int64(f), nil
}

func metaString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
