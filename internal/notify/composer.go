// Package notify turns order transitions into push notifications and fans
// them out to every device of every recipient.
package notify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/austindbirch/payhook/internal/event"
	"github.com/austindbirch/payhook/internal/order"
)

// Notification is built per event and never stored.
type Notification struct {
	ID    string
	Title string
	Body  string
	Data  map[string]string
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
)

// Addressed pairs a notification with the user it is for.
type Addressed struct {
	RecipientID  string
	Role         Role
	Notification Notification
}

type Composer struct {
	deepLinkBase string
	newID        func() string
}

func NewComposer(deepLinkBase string) *Composer {
	return &Composer{
		deepLinkBase: strings.TrimRight(deepLinkBase, "/"),
		newID:        func() string { return uuid.NewString() },
	}
}

// Compose returns the notifications an event produces. Recipients come from
// event metadata, falling back to the ids stored on the order; a recipient
// with no id is left out.
func (c *Composer) Compose(kind event.Kind, o order.Order, attrs event.Attributes) []Addressed {
	customerID := firstNonEmpty(attrs.Metadata.CustomerID, o.CustomerID)
	vendorID := firstNonEmpty(attrs.Metadata.VendorID, o.VendorID)
	orderID := firstNonEmpty(attrs.Metadata.OrderID, o.ID)

	amount := attrs.Amount
	if amount == 0 {
		amount = o.Amount
	}
	currency := firstNonEmpty(attrs.Currency, o.Currency)
	display := FormatAmount(amount, currency)

	var out []Addressed
	add := func(recipient string, role Role, title, body string) {
		if recipient == "" {
			return
		}
		out = append(out, Addressed{
			RecipientID:  recipient,
			Role:         role,
			Notification: c.build(kind, o, orderID, amount, currency, title, body),
		})
	}

	switch kind {
	case event.PaymentPaid:
		add(customerID, RoleCustomer, "Payment Successful",
			fmt.Sprintf("Your payment of %s for order %s was received.", display, orderID))
		add(vendorID, RoleVendor, "New Order Received",
			fmt.Sprintf("Order %s has been paid (%s). Please start preparing it.", orderID, display))
	case event.PaymentFailed:
		body := fmt.Sprintf("We couldn't process your payment for order %s. Please try again.", orderID)
		if reason := attrs.Metadata.FailureReason; reason != "" {
			body = fmt.Sprintf("We couldn't process your payment for order %s (%s). Please try again.",
				orderID, strings.ReplaceAll(reason, "_", " "))
		}
		add(customerID, RoleCustomer, "Payment Failed", body)
	}
	return out
}

func (c *Composer) build(kind event.Kind, o order.Order, orderID string, amount int64, currency, title, body string) Notification {
	id := c.newID()
	return Notification{
		ID:    id,
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":           string(kind),
			"orderId":        orderID,
			"amount":         formatMinor(amount),
			"currency":       currency,
			"status":         string(o.Status),
			"url":            c.deepLinkBase + "/" + orderID,
			"notificationId": id,
		},
	}
}

// FormatAmount renders minor units as "<CUR> <major>.<minor>", e.g. "PHP 33.56".
func FormatAmount(minor int64, currency string) string {
	s := formatMinor(minor)
	if currency == "" {
		return s
	}
	return currency + " " + s
}

func formatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
