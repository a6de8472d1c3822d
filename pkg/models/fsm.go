package models

import (
	"fmt"
	"time"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusProcessing: true, // Queued → Processing (orchestrator claims job)
		JobStatusError:      true, // Queued → Error (claim-time validation failed)
	},
	JobStatusProcessing: {
		JobStatusCompleted: true, // Processing → Completed (pipeline succeeded)
		JobStatusError:     true, // Processing → Error (retries and fallback exhausted)
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusError:     {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusError
}

// RetryPolicy defines whole-pipeline retry behavior.
// Backoff is linear: attempt N waits N * Backoff, capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts int           // Total pipeline attempts before fallback
	Backoff     time.Duration // Base backoff between attempts
	MaxBackoff  time.Duration // Upper bound for a single wait
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// BackoffFor returns the wait before the next attempt, given the attempt
// number that just failed (1-based)
func (rp RetryPolicy) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * rp.Backoff
	if rp.MaxBackoff > 0 && d > rp.MaxBackoff {
		return rp.MaxBackoff
	}
	return d
}
