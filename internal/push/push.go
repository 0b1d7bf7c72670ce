// Package push delivers notifications to device tokens through a push gateway.
package push

import (
	"context"
	"fmt"
	"strings"
)

// Message is the payload sent to every token of one recipient.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

type Outcome string

const (
	Delivered Outcome = "delivered"
	Retryable Outcome = "retryable"
	Permanent Outcome = "permanent"
)

// TokenResult is the gateway's verdict for one token.
type TokenResult struct {
	Token   string
	Outcome Outcome
	Reason  string // gateway error code, empty when delivered
}

// Pusher sends one message to many tokens in a single call. A non-nil error
// means the call as a whole failed and no token result is known.
type Pusher interface {
	Send(ctx context.Context, tokens []string, msg Message) ([]TokenResult, error)
}

// Gateway error codes that mean a token will never succeed again.
const (
	CodeUnregistered = "unregistered"
	CodeInvalidToken = "invalid_token"
	CodeNotFound     = "not_found"
)

// Classify maps a gateway error code to an outcome.
func Classify(ok bool, code string) Outcome {
	if ok {
		return Delivered
	}
	switch strings.ToLower(code) {
	case CodeUnregistered, CodeInvalidToken, CodeNotFound:
		return Permanent
	}
	return Retryable
}

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push gateway returned status %d: %s", e.Code, e.Body)
}

// SendRequest is the wire body of POST /v1/send.
type SendRequest struct {
	Tokens       []string          `json:"tokens"`
	Notification WireNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type WireNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SendResponse lists one result per requested token, in request order.
type SendResponse struct {
	Results []WireResult `json:"results"`
}

type WireResult struct {
	Token string `json:"token"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
