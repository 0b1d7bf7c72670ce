package device

import (
	"context"
	"sync"
)

// MemoryRegistry keeps tokens in process. Used by tests and STORE_DRIVER=memory.
type MemoryRegistry struct {
	mu     sync.Mutex
	tokens []Token

	ListErr       error
	DeactivateErr error
}

func NewMemoryRegistry(tokens ...Token) *MemoryRegistry {
	return &MemoryRegistry{tokens: tokens}
}

// Register adds an active token for owner.
func (r *MemoryRegistry) Register(ctx context.Context, ownerID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tokens {
		if r.tokens[i].OwnerID == ownerID && r.tokens[i].Token == token {
			r.tokens[i].IsActive = true
			return nil
		}
	}
	r.tokens = append(r.tokens, Token{Token: token, OwnerID: ownerID, IsActive: true})
	return nil
}

// All returns a copy of every token, active or not.
func (r *MemoryRegistry) All() []Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Token(nil), r.tokens...)
}

func (r *MemoryRegistry) ListActiveTokens(ctx context.Context, ownerID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	var out []string
	for _, t := range r.tokens {
		if t.OwnerID == ownerID && t.IsActive {
			out = append(out, t.Token)
		}
	}
	return out, nil
}

func (r *MemoryRegistry) Deactivate(ctx context.Context, ownerID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeactivateErr != nil {
		return r.DeactivateErr
	}
	for i := range r.tokens {
		if r.tokens[i].OwnerID == ownerID && r.tokens[i].Token == token {
			r.tokens[i].IsActive = false
		}
	}
	return nil
}
