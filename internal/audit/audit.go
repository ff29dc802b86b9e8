// Package audit provides the append-only audit trail for hedge decisions.
// Every skip, trigger, detection, gate change, and unwind step is written
// here regardless of whether the corresponding action succeeded.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Sizing events
	EventRecommendation EventType = "RECOMMENDATION"
	EventHedgeSkipped   EventType = "HEDGE_SKIPPED"
	EventHedgeClipped   EventType = "HEDGE_CLIPPED"
	EventSpendRecorded  EventType = "SPEND_RECORDED"
	EventPositionOpened EventType = "POSITION_OPENED"

	// Lifecycle events
	EventRollTriggered   EventType = "ROLL_TRIGGERED"
	EventRollCompleted   EventType = "ROLL_COMPLETED"
	EventPositionExpired EventType = "POSITION_EXPIRED"

	// Assignment events
	EventAssignmentDetected   EventType = "ASSIGNMENT_DETECTED"
	EventAssignmentRemediated EventType = "ASSIGNMENT_REMEDIATED"
	EventAssignmentUnresolved EventType = "ASSIGNMENT_UNRESOLVED"

	// Safety gate events
	EventGateSet     EventType = "GATE_SET"
	EventGateCleared EventType = "GATE_CLEARED"

	// Unwind events
	EventUnwindInitiated EventType = "UNWIND_INITIATED"
	EventUnwindStep      EventType = "UNWIND_STEP"
	EventUnwindCompleted EventType = "UNWIND_COMPLETED"
	EventDiscrepancy     EventType = "RECONCILIATION_DISCREPANCY"

	// Cycle events
	EventDuplicateInvocation EventType = "DUPLICATE_INVOCATION"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp     time.Time              `json:"timestamp"`
	EventType     EventType              `json:"event_type"`
	Underlying    string                 `json:"underlying,omitempty"`
	PositionID    string                 `json:"position_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Action        string                 `json:"action,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Success       bool                   `json:"success"`
	ErrorMsg      string                 `json:"error,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
}

// Recorder is the audit sink injected into every engine component.
type Recorder interface {
	Log(ctx context.Context, event Event) error
}

// Logger writes audit events as JSON lines to a rotating file.
type Logger struct {
	writer    *lumberjack.Logger
	mu        sync.Mutex
	sessionID string
}

// Config holds audit logger configuration.
type Config struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		LogDir:     filepath.Join(home, ".config", "alchemiser-hedger", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewLogger creates a new audit logger.
func NewLogger(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	return &Logger{
		writer:    writer,
		sessionID: uuid.NewString(),
	}, nil
}

// Log writes an audit event.
func (l *Logger) Log(ctx context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = time.Now().UTC()
	event.SessionID = l.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (l *Logger) Close() error {
	return l.writer.Close()
}

// NopRecorder discards audit events. Test helper.
type NopRecorder struct{}

// Log discards the event.
func (NopRecorder) Log(ctx context.Context, event Event) error { return nil }

// MemoryRecorder captures audit events in memory. Test helper.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// Log appends the event.
func (m *MemoryRecorder) Log(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Timestamp = time.Now().UTC()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the captured events.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType returns captured events of the given type.
func (m *MemoryRecorder) EventsOfType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
