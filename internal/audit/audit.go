package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Security-relevant event types recorded by the backend.
const (
	EventRegister          = "account.register"
	EventFederatedLink     = "account.federated_link"
	EventLoginSuccess      = "login.success"
	EventLoginFailure      = "login.failure"
	EventAccountLocked     = "login.account_locked"
	EventLogout            = "session.logout"
	EventLogoutAll         = "session.logout_all"
	EventTokenRefresh      = "session.token_refresh"
	EventResetRequested    = "password_reset.requested"
	EventResetCompleted    = "password_reset.completed"
	EventResetRejected     = "password_reset.rejected"
	EventPasswordChanged   = "password.changed"
	EventResetTokensPurged = "password_reset.purged"
)

// Event is one append-only audit record. Metadata never contains
// plaintext secrets or raw tokens.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events. A sink failure must never block
// or fail the operation that produced the event.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel, for tests
// and in-process consumers.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
