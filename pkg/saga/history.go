package saga

import (
	"sync"
)

const defaultHistorySize = 100

// History is a bounded, append-only buffer of terminal executions kept for
// inspection. Once capacity is reached the oldest entry is evicted.
type History struct {
	mu       sync.RWMutex
	capacity int
	entries  []*Execution
}

// NewHistory creates a history buffer. Non-positive capacity falls back to
// the default.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &History{
		capacity: capacity,
		entries:  make([]*Execution, 0, capacity),
	}
}

// Add appends a terminal execution, evicting the oldest entry when full.
func (h *History) Add(exec *Execution) {
	if exec == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.capacity-1]
	}
	h.entries = append(h.entries, exec.Clone())
}

// List returns copies of all retained executions, oldest first.
func (h *History) List() []*Execution {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Execution, 0, len(h.entries))
	for _, exec := range h.entries {
		out = append(out, exec.Clone())
	}
	return out
}

// Get returns a retained execution by id.
func (h *History) Get(sagaID string) (*Execution, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, exec := range h.entries {
		if exec.ID == sagaID {
			return exec.Clone(), true
		}
	}
	return nil, false
}

// Len reports the number of retained executions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Statistics summarizes terminal executions in the history buffer.
type Statistics struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Compensated int     `json:"compensated"`
	Errored     int     `json:"errored"`
	SuccessRate float64 `json:"success_rate"`
}

// Statistics computes aggregate counts and success rate over the buffer.
func (h *History) Statistics() Statistics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Statistics{Total: len(h.entries)}
	for _, exec := range h.entries {
		switch exec.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusCompensated:
			stats.Compensated++
		case StatusError:
			stats.Errored++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total)
	}
	return stats
}
