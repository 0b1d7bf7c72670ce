package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/austindbirch/payhook/internal/auth"
	"github.com/austindbirch/payhook/internal/config"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/push"
)

const (
	deadPrefix  = "dead-"  // reported as unregistered
	flakyPrefix = "flaky-" // reported as unavailable
)

// gateway is a stand-in for the real push provider.
type gateway struct {
	failFirstN int64
	reqCount   atomic.Int64
	logger     *logging.Logger
}

func newGateway(failFirstN int, logger *logging.Logger) *gateway {
	return &gateway{failFirstN: int64(failFirstN), logger: logger}
}

func (g *gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := g.reqCount.Add(1)

	var req push.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	subject, _ := auth.SubjectFromContext(r.Context())
	entry := g.logger.Plain().
		WithField("tokens", len(req.Tokens)).
		WithField("title", req.Notification.Title).
		WithField("caller", subject)

	// Simulate an outage: first N batches -> 503
	if n <= g.failFirstN {
		entry.Warnf("FAILING (%d/%d) batch", n, g.failFirstN)
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := push.SendResponse{Results: make([]push.WireResult, 0, len(req.Tokens))}
	for _, tok := range req.Tokens {
		resp.Results = append(resp.Results, resultFor(tok))
	}
	entry.WithField("body", truncate(req.Notification.Body, 160)).Info("fake-push OK")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func resultFor(token string) push.WireResult {
	switch {
	case strings.HasPrefix(token, deadPrefix):
		return push.WireResult{Token: token, Error: push.CodeUnregistered}
	case strings.HasPrefix(token, flakyPrefix):
		return push.WireResult{Token: token, Error: "unavailable"}
	}
	return push.WireResult{Token: token, OK: true}
}

func newMux(g *gateway, validator *auth.JWTValidator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/v1/send", g.handleSend)
	if validator == nil {
		return mux
	}
	return validator.HTTPMiddleware(mux)
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("fake-push")

	var validator *auth.JWTValidator
	if cfg.FakePush.PublicKeyFile != "" {
		keyPEM, err := os.ReadFile(cfg.FakePush.PublicKeyFile)
		if err != nil {
			logger.Plain().WithError(err).Fatal("read public key")
		}
		validator, err = auth.NewJWTValidator(keyPEM, cfg.FakePush.Issuer, cfg.FakePush.Audience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("jwt validator")
		}
	}

	g := newGateway(cfg.FakePush.FailFirstN, logger)
	logger.Plain().WithField("addr", cfg.FakePush.Port).WithField("auth", validator != nil).
		Info("fake-push listening")
	if err := http.ListenAndServe(cfg.FakePush.Port, newMux(g, validator)); err != nil {
		logger.Plain().WithError(err).Fatal("fake-push serve failed")
	}
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
