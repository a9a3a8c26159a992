package domain

import "time"

// BatchProgress tracks one bounded chunk of records within a session.
// Batch numbers are contiguous starting at 1, assigned in emission order.
type BatchProgress struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Number    int         `json:"number"`
	Size      int         `json:"size"`
	SourceIDs []string    `json:"source_ids"`
	Counts    SyncCounts  `json:"counts"`
	Status    BatchStatus `json:"status"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	ErrorMsg  string      `json:"error_msg,omitempty"`
}

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// IsTerminal reports whether the batch reached a final state.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}
