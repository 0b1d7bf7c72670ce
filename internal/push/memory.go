package push

import (
	"context"
	"sync"
)

// MemoryPusher records sends and answers from a fixed outcome table.
// Tokens without an entry are delivered.
type MemoryPusher struct {
	mu       sync.Mutex
	outcomes map[string]string // token -> gateway error code
	calls    []Call

	// Err, when set, fails every call as a whole.
	Err error
}

type Call struct {
	Tokens  []string
	Message Message
}

func NewMemoryPusher() *MemoryPusher {
	return &MemoryPusher{outcomes: make(map[string]string)}
}

// FailToken makes token fail with the given gateway error code.
func (p *MemoryPusher) FailToken(token, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes[token] = code
}

// Calls returns a copy of every recorded call.
func (p *MemoryPusher) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

func (p *MemoryPusher) Send(ctx context.Context, tokens []string, msg Message) ([]TokenResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Tokens: append([]string(nil), tokens...), Message: msg})
	if p.Err != nil {
		return nil, p.Err
	}

	results := make([]TokenResult, len(tokens))
	for i, tok := range tokens {
		code, failed := p.outcomes[tok]
		results[i] = TokenResult{Token: tok, Outcome: Classify(!failed, code), Reason: code}
	}
	return results, nil
}
