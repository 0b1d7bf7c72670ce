package order

import (
	"context"
	"sync"
)

// MemoryStore keeps orders in process. Used by tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order

	failures []error // returned, in order, by the next calls
	updates  int
}

func NewMemoryStore(orders ...Order) *MemoryStore {
	s := &MemoryStore{orders: make(map[string]Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

// Put inserts or replaces an order.
func (s *MemoryStore) Put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *MemoryStore) Seed(ctx context.Context, o Order) error {
	s.Put(o)
	return nil
}

// FailNext makes the next len(errs) store calls return errs in order.
func (s *MemoryStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Updates reports how many writes reached the store.
func (s *MemoryStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *MemoryStore) popFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return Order{}, err
	}
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return err
	}
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if patch.UnlessStatus != "" && o.Status == patch.UnlessStatus {
		return ErrConflict
	}
	s.orders[id] = patch.Apply(o)
	s.updates++
	return nil
}
