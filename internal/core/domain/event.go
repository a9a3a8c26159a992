package domain

import "time"

// SyncEvent is a lifecycle event emitted through the event sink.
type SyncEvent struct {
	SessionID   string         `json:"session_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        SyncEventType  `json:"event_type"`
	BatchNumber int            `json:"batch_number,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

type SyncEventType string

const (
	EventSessionStarted   SyncEventType = "session.started"
	EventSessionRunning   SyncEventType = "session.running"
	EventSessionCompleted SyncEventType = "session.completed"
	EventSessionFailed    SyncEventType = "session.failed"
	EventSessionCancelled SyncEventType = "session.cancelled"

	EventBatchStarted         SyncEventType = "batch.started"
	EventBatchProgressUpdated SyncEventType = "batch.progressUpdated"
	EventBatchCompleted       SyncEventType = "batch.completed"
	EventBatchFailed          SyncEventType = "batch.failed"

	EventRetryScheduled SyncEventType = "retry.scheduled"
	EventRetrySucceeded SyncEventType = "retry.succeeded"
	EventRetryExhausted SyncEventType = "retry.exhausted"

	EventBreakerOpened SyncEventType = "circuitBreaker.opened"
	EventBreakerClosed SyncEventType = "circuitBreaker.closed"
)
