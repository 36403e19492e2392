package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types emitted during a batch run.
const (
	EventRunStarted    = "run_started"
	EventItemGenerated = "item_generated"
	EventItemFailed    = "item_failed"
	EventItemEvaluated = "item_evaluated"
	EventRunFinished   = "run_finished"
)

// Event is a progress event for a run.
type Event struct {
	RunID     string         `json:"run_id"`
	ItemID    string         `json:"item_id,omitempty"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MemoryEventLogger stores events in memory.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// ChannelEventLogger forwards events to a channel without blocking. Events
// are dropped when the consumer falls behind; Dropped counts them.
type ChannelEventLogger struct {
	ch      chan Event
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChannelEventLogger creates a logger with a buffer of size buf.
func NewChannelEventLogger(buf int) *ChannelEventLogger {
	if buf < 1 {
		buf = 1
	}
	return &ChannelEventLogger{ch: make(chan Event, buf)}
}

// C returns the receive side.
func (l *ChannelEventLogger) C() <-chan Event {
	return l.ch
}

func (l *ChannelEventLogger) LogEvent(event Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	select {
	case l.ch <- event:
	default:
		l.dropped++
	}
	return nil
}

// Close closes the channel. Later events are ignored.
func (l *ChannelEventLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}

// Dropped returns how many events did not fit the buffer.
func (l *ChannelEventLogger) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// MultiEventLogger sends every event to each logger. Failures are logged and
// the first error returned.
type MultiEventLogger []EventLogger

func (m MultiEventLogger) LogEvent(event Event) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.LogEvent(event); err != nil {
			slog.Warn("event logger failed", "type", event.EventType, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// PostgresEventLogger inserts events into the events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.RunID == "" {
		return fmt.Errorf("run_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	cmd, err := l.pool.Exec(ctx,
		`INSERT INTO events (run_id, item_id, event_type, data, created_at)
		 SELECT r.id, $2, $3, $4::jsonb, $5
		 FROM runs r
		 WHERE r.id = $1::uuid`,
		event.RunID,
		event.ItemID,
		event.EventType,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, event.RunID)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"run_id", event.RunID,
		"item_id", event.ItemID,
	)
	return nil
}
