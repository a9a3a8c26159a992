package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
)

// Sink is the single seam all components emit lifecycle events through.
// Concrete delivery (log, redis pub/sub, message queue) is an adapter.
type Sink interface {
	Publish(ctx context.Context, ev domain.SyncEvent) error
}

// New stamps a timestamp and builds an event.
func New(sessionID string, evType domain.SyncEventType, payload map[string]any) domain.SyncEvent {
	return domain.SyncEvent{
		SessionID: sessionID,
		Timestamp: time.Now(),
		Type:      evType,
		Payload:   payload,
	}
}

// LogSink writes events to the structured logger.
type LogSink struct {
	Log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{Log: log}
}

func (s *LogSink) Publish(_ context.Context, ev domain.SyncEvent) error {
	s.Log.Debug("sync event",
		"type", ev.Type,
		"session", ev.SessionID,
		"batch", ev.BatchNumber,
	)
	return nil
}

// MemorySink buffers events for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []domain.SyncEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, ev domain.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a snapshot of everything published so far.
func (s *MemorySink) Events() []domain.SyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SyncEvent, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns published events of one type.
func (s *MemorySink) ByType(t domain.SyncEventType) []domain.SyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SyncEvent
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
