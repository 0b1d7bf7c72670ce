// Package device resolves recipients to their active push tokens and retires
// tokens the push gateway reports as permanently invalid.
package device

import (
	"context"

	"github.com/austindbirch/payhook/internal/fault"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/metrics"
)

// Token is one registered push endpoint. Tokens are deactivated, never deleted.
type Token struct {
	Token    string
	OwnerID  string
	IsActive bool
}

// Registry is the external store of device tokens.
type Registry interface {
	ListActiveTokens(ctx context.Context, ownerID string) ([]string, error)
	Deactivate(ctx context.Context, ownerID, token string) error
}

// Registrar adds tokens to a registry. Seeding uses it.
type Registrar interface {
	Register(ctx context.Context, ownerID, token string) error
}

// Manager guards the pipeline from registry failures: errors are logged and
// never returned.
type Manager struct {
	registry Registry
	logger   *logging.Logger
}

func NewManager(registry Registry, logger *logging.Logger) *Manager {
	return &Manager{registry: registry, logger: logger}
}

// Resolve returns the active tokens of recipientID. The bool is false when the
// registry could not be read and the recipient should be skipped.
func (m *Manager) Resolve(ctx context.Context, recipientID string) ([]string, bool) {
	tokens, err := m.registry.ListActiveTokens(ctx, recipientID)
	if err != nil {
		m.logger.WithContext(ctx).WithRecipient(recipientID).WithError(err).
			Warn("device registry unavailable, skipping recipient")
		return nil, false
	}
	return dedupe(tokens), true
}

// Retire deactivates each token and returns how many were retired. A failed
// write is logged as a TokenRetirementError and does not stop the others.
func (m *Manager) Retire(ctx context.Context, recipientID string, tokens []string) int {
	retired := 0
	for _, tok := range tokens {
		if err := m.registry.Deactivate(ctx, recipientID, tok); err != nil {
			ferr := fault.Wrap(err, fault.TokenRetirement, "failed to deactivate device token",
				map[string]any{"recipient_id": recipientID})
			m.logger.WithContext(ctx).WithRecipient(recipientID).WithError(ferr).
				WithField("error_kind", string(fault.TokenRetirement)).
				WithField("token", Redact(tok)).
				Error("token retirement failed")
			metrics.RecordTokenRetired(false)
			continue
		}
		retired++
		metrics.RecordTokenRetired(true)
	}
	if retired > 0 {
		m.logger.WithContext(ctx).WithRecipient(recipientID).
			WithField("retired", retired).Info("retired invalid device tokens")
	}
	return retired
}

// Redact shortens a token for logs.
func Redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// dedupe drops blank and repeated tokens, keeping first-seen order.
func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
