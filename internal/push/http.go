package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/austindbirch/payhook/internal/tracing"
)

// TokenSource supplies bearer tokens for the gateway.
type TokenSource interface {
	Token() (string, error)
}

// HTTPClient talks to a push gateway over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// NewHTTPClient builds a client for baseURL. tokens may be nil when the
// gateway does not require auth.
func NewHTTPClient(baseURL string, timeout time.Duration, tokens TokenSource) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

func (c *HTTPClient) Send(ctx context.Context, tokens []string, msg Message) ([]TokenResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(SendRequest{
		Tokens:       tokens,
		Notification: WireNotification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("push gateway token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	tracing.InjectHTTP(ctx, req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}
	return matchResults(tokens, out.Results), nil
}

// matchResults lines wire results up with the requested tokens. A token the
// gateway did not report on is treated as retryable.
func matchResults(tokens []string, wire []WireResult) []TokenResult {
	byToken := make(map[string]WireResult, len(wire))
	for i, r := range wire {
		if r.Token == "" && i < len(tokens) {
			r.Token = tokens[i]
		}
		byToken[r.Token] = r
	}

	results := make([]TokenResult, len(tokens))
	for i, tok := range tokens {
		r, ok := byToken[tok]
		if !ok {
			results[i] = TokenResult{Token: tok, Outcome: Retryable, Reason: "missing_result"}
			continue
		}
		results[i] = TokenResult{Token: tok, Outcome: Classify(r.OK, r.Error), Reason: r.Error}
	}
	return results
}

// ClassifyError labels a whole-call failure for logs and metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return "auth"
		case se.Code == http.StatusTooManyRequests:
			return "http_429"
		case se.Code >= 500:
			return "http_5xx"
		default:
			return "http_4xx"
		}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	errLower := strings.ToLower(err.Error())
	if strings.Contains(errLower, "connection refused") {
		return "connection_refused"
	}
	if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
		return "dns_error"
	}
	return "network"
}
