package saga

import (
	"context"
	"fmt"
	"sync"
)

// ListFilter controls execution list queries.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// StateStore persists execution snapshots keyed by saga id. Writes are
// per-saga-id and never read-modify-write across sagas, so implementations
// only need atomic put/get per key.
type StateStore interface {
	Put(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, sagaID string) (*Execution, error)
	List(ctx context.Context, filter ListFilter) ([]*Execution, int, error)
	Delete(ctx context.Context, sagaID string) error
}

// MemoryStore is an in-memory StateStore implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]*Execution
}

// NewMemoryStore creates an in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		execs: make(map[string]*Execution),
	}
}

// Put stores a snapshot of one execution.
func (s *MemoryStore) Put(_ context.Context, exec *Execution) error {
	if exec == nil {
		return fmt.Errorf("saga execution cannot be nil")
	}
	s.mu.Lock()
	s.execs[exec.ID] = exec.Clone()
	s.mu.Unlock()
	return nil
}

// Get loads one execution snapshot by saga id.
func (s *MemoryStore) Get(_ context.Context, sagaID string) (*Execution, error) {
	s.mu.RLock()
	exec, ok := s.execs[sagaID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSagaNotFound
	}
	return exec.Clone(), nil
}

// List returns executions with optional status filter and pagination.
func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Execution, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Execution, 0, len(s.execs))
	for _, exec := range s.execs {
		if filter.Status != "" && exec.Status.String() != filter.Status {
			continue
		}
		all = append(all, exec.Clone())
	}
	total := len(all)

	offset, end := pageBounds(total, filter.Offset, filter.Limit)
	return all[offset:end], total, nil
}

// Delete removes one execution snapshot.
func (s *MemoryStore) Delete(_ context.Context, sagaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[sagaID]; !ok {
		return ErrSagaNotFound
	}
	delete(s.execs, sagaID)
	return nil
}

func pageBounds(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return offset, end
}
