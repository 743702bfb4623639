package saga

import (
	"sync"
	"time"
)

// EventKind identifies one lifecycle event.
type EventKind string

const (
	EventSagaStarted         EventKind = "saga-started"
	EventStepStarted         EventKind = "step-started"
	EventStepCompleted       EventKind = "step-completed"
	EventStepFailed          EventKind = "step-failed"
	EventCompensationStarted EventKind = "compensation-started"
	EventStepCompensated     EventKind = "step-compensated"
	EventCompensationFailed  EventKind = "compensation-failed"
	EventSagaCompleted       EventKind = "saga-completed"
	EventSagaFailed          EventKind = "saga-failed"
)

// Event is one ordered lifecycle notification. Events exist for monitoring
// only; consumers must not derive execution correctness from them.
type Event struct {
	SagaID    string    `json:"saga_id"`
	Kind      EventKind `json:"kind"`
	StepName  string    `json:"step_name,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink consumes lifecycle events. Emit must not block the calling execution.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event Event)

// Emit calls the wrapped function.
func (f SinkFunc) Emit(event Event) { f(event) }

// Broadcaster fans lifecycle events out to subscriber channels, dropping on
// overflow so a slow subscriber never blocks an execution.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a buffered event channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Emit broadcasts one event to all subscribers.
func (b *Broadcaster) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop
		}
	}
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
