package saga

import (
	"encoding/json"
	"fmt"
)

// Status defines the lifecycle of a saga execution.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCompensating
	StatusCompensated
	StatusError
)

var validTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusRunning: {},
	},
	StatusRunning: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusFailed: {
		StatusCompensating: {},
	},
	StatusCompensating: {
		StatusCompensated: {},
		StatusError:       {},
	},
}

// String returns the string form of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCompensating:
		return "compensating"
	case StatusCompensated:
		return "compensated"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseStatus parses a status string.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "running":
		return StatusRunning, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "compensating":
		return StatusCompensating, nil
	case "compensated":
		return StatusCompensated, nil
	case "error":
		return StatusError, nil
	default:
		return StatusPending, fmt.Errorf("unknown saga status %q", s)
	}
}

// IsTerminal reports whether the status accepts no further transitions.
// COMPENSATED means the saga failed but rolled back cleanly; ERROR means the
// rollback itself broke.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusError:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether a transition is valid. Same-state
// transitions are allowed so resumed executions re-enter their stored status.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	validNext, ok := validTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidateTransition validates transition semantics.
func ValidateTransition(current, next Status) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid saga status transition: %s -> %s", current, next)
	}
	return nil
}

// MarshalJSON serializes the status as its string form so snapshots stay
// readable and stable across engine versions.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the string form.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
