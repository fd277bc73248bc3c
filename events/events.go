// Package events publishes loop lifecycle events. Every event goes to the
// structured log; publishing to NATS is optional and degrades to a no-op
// when no server is configured.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event types emitted over one loop run.
const (
	TypeIterationStarted   = "iteration_started"
	TypeBackendSwitched    = "backend_switched"
	TypeAttemptPassed      = "attempt_passed"
	TypeAttemptFailed      = "attempt_failed"
	TypeIterationCommitted = "iteration_committed"
	TypeLoopStopped        = "loop_stopped"
)

// Event is one lifecycle occurrence.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Iteration int       `json:"iteration,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	Time      time.Time `json:"time"`
	Detail    string    `json:"detail,omitempty"`
}

// New creates an Event stamped with a fresh ID and the current time.
func New(eventType string, iteration int, backendName, detail string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Iteration: iteration,
		Backend:   backendName,
		Time:      time.Now().UTC(),
		Detail:    detail,
	}
}

// Emitter publishes lifecycle events.
type Emitter interface {
	Emit(event Event)
}

// LogEmitter writes events to the structured log.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event.
func (e *LogEmitter) Emit(event Event) {
	e.logger.Info("Lifecycle event",
		"type", event.Type,
		"iteration", event.Iteration,
		"backend", event.Backend,
		"detail", event.Detail)
}

// NATSEmitter publishes events to a NATS subject per event type. A nil
// connection makes every publish a no-op, so the loop runs unchanged without
// a broker.
type NATSEmitter struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSEmitter connects to NATS and returns an emitter publishing under
// "<prefix>.lifecycle.<type>". An empty URL returns a disabled emitter and
// no error.
func NewNATSEmitter(url, prefix string, logger *slog.Logger) (*NATSEmitter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "forgeloop"
	}

	e := &NATSEmitter{prefix: prefix, logger: logger}
	if url == "" {
		return e, nil
	}

	nc, err := nats.Connect(url, nats.Name("forgeloop"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	e.nc = nc
	logger.Info("Publishing lifecycle events to NATS", "url", url, "prefix", prefix)
	return e, nil
}

// Subject returns the NATS subject for an event type.
func (e *NATSEmitter) Subject(eventType string) string {
	return e.prefix + ".lifecycle." + eventType
}

// Emit publishes the event. Failures are logged, never fatal.
func (e *NATSEmitter) Emit(event Event) {
	if e.nc == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("Failed to marshal lifecycle event", "error", err)
		return
	}
	if err := e.nc.Publish(e.Subject(event.Type), data); err != nil {
		e.logger.Warn("Failed to publish lifecycle event", "error", err)
	}
}

// Close drains the NATS connection.
func (e *NATSEmitter) Close() {
	if e.nc != nil {
		e.nc.Close()
		e.nc = nil
	}
}

// Multi fans one event out to several emitters.
type Multi []Emitter

// Emit sends the event to each emitter in order.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
