package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
)

// statusTTL bounds how long a finished session's cached status lives.
const statusTTL = 24 * time.Hour

// EventSink delivers lifecycle events over Redis pub/sub and mirrors
// session progress into a status hash that pollers read without
// touching the database.
type EventSink struct {
	client *Client
}

// NewEventSink creates a Redis-backed event sink.
func NewEventSink(client *Client) *EventSink {
	return &EventSink{client: client}
}

// Publish sends the event to the session channel and the firehose
// channel, then updates the session status hash.
func (s *EventSink) Publish(ctx context.Context, ev domain.SyncEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := s.client.rdb.Pipeline()
	pipe.Publish(ctx, eventsChannel(ev.SessionID), data)
	pipe.Publish(ctx, allEventsChannel, data)

	if fields := statusFields(ev); len(fields) > 0 {
		key := statusKey(ev.SessionID)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, statusTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// statusFields derives status-hash updates from an event. Non
// session-progress events (retry, breaker) update nothing.
func statusFields(ev domain.SyncEvent) map[string]any {
	fields := map[string]any{}

	switch ev.Type {
	case domain.EventSessionStarted:
		fields["status"] = "pending"
		fields["started_at"] = ev.Timestamp.Format(time.RFC3339)
		if v, ok := ev.Payload["sync_type"]; ok {
			fields["sync_type"] = fmt.Sprintf("%v", v)
		}
	case domain.EventSessionRunning:
		fields["status"] = "running"
	case domain.EventSessionCompleted:
		fields["status"] = "completed"
	case domain.EventSessionFailed:
		fields["status"] = "failed"
		if v, ok := ev.Payload["error"]; ok {
			fields["error"] = fmt.Sprintf("%v", v)
		}
	case domain.EventSessionCancelled:
		fields["status"] = "cancelled"
	case domain.EventBatchCompleted, domain.EventBatchProgressUpdated, domain.EventBatchFailed:
		// Batch payload counts are batch-scoped; only the batch number
		// is mirrored here.
		fields["current_batch"] = ev.BatchNumber
		return fields
	default:
		return nil
	}

	for _, k := range []string{"processed", "created", "updated", "existing", "errors"} {
		if v, ok := ev.Payload[k]; ok {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return fields
}

// SessionStatus reads the cached status hash for a session. Returns an
// empty map when nothing is cached.
func (s *EventSink) SessionStatus(ctx context.Context, sessionID string) (map[string]string, error) {
	res, err := s.client.rdb.HGetAll(ctx, statusKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session status: %w", err)
	}
	return res, nil
}
