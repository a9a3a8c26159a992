package session

import (
	"errors"

	"github.com/vietddude/syncd/internal/core/domain"
)

var (
	// ErrInvalidTransition is returned when an illegal state change is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalState is returned when writing to a finished session or batch.
	ErrTerminalState = errors.New("state is terminal")
)

// ValidSessionTransitions defines allowed session state transitions.
// Transitions are one-directional; no state is revisited.
var ValidSessionTransitions = map[domain.SessionStatus][]domain.SessionStatus{
	domain.SessionStatusPending: {
		domain.SessionStatusRunning,
		domain.SessionStatusFailed,
		domain.SessionStatusCancelled,
	},
	domain.SessionStatusRunning: {
		domain.SessionStatusCompleted,
		domain.SessionStatusFailed,
		domain.SessionStatusCancelled,
	},
}

// ValidBatchTransitions defines allowed batch state transitions.
var ValidBatchTransitions = map[domain.BatchStatus][]domain.BatchStatus{
	domain.BatchStatusPending: {
		domain.BatchStatusProcessing,
		domain.BatchStatusFailed,
	},
	domain.BatchStatusProcessing: {
		domain.BatchStatusCompleted,
		domain.BatchStatusFailed,
	},
}

// CanTransitionSession checks if a session transition is valid.
func CanTransitionSession(from, to domain.SessionStatus) bool {
	for _, target := range ValidSessionTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// CanTransitionBatch checks if a batch transition is valid.
func CanTransitionBatch(from, to domain.BatchStatus) bool {
	for _, target := range ValidBatchTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
