package domain

import "time"

// SyncSession represents one end-to-end execution of the sync pipeline
type SyncSession struct {
	ID             string        `json:"id"`
	SyncType       string        `json:"sync_type"`
	Status         SessionStatus `json:"status"`
	Counts         SyncCounts    `json:"counts"`
	EstimatedTotal int           `json:"estimated_total"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	InitiatedBy    string        `json:"initiated_by"`
	ErrorSummary   string        `json:"error_summary,omitempty"`
}

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// SyncCounts aggregates per-record outcomes at session or batch granularity.
// Processed always equals Created+Updated+Existing+Errors.
type SyncCounts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Existing  int `json:"existing"`
	Errors    int `json:"errors"`
}

// Add merges other into c.
func (c *SyncCounts) Add(other SyncCounts) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Existing += other.Existing
	c.Errors += other.Errors
}

// Consistent checks the processed = created+updated+existing+errors invariant.
func (c SyncCounts) Consistent() bool {
	return c.Processed == c.Created+c.Updated+c.Existing+c.Errors
}
