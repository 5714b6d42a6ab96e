package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType represents the type of event
type EventType string

const (
	SessionStarted     EventType = "session_started"
	TestGenerated      EventType = "test_generated"
	TestCompleted      EventType = "test_completed"
	CompetencyAchieved EventType = "competency_achieved"
	SessionCompleted   EventType = "session_completed"
)

// Types lists every event type in lifecycle order
var Types = []EventType{SessionStarted, TestGenerated, TestCompleted, CompetencyAchieved, SessionCompleted}

// Event is a state transition of a training session
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	AgentID   string                 `json:"agent_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler observes events
type Handler interface {
	HandleEvent(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, event Event) error

// HandleEvent calls f
func (f HandlerFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is the publishing side of the bus, as seen by the engine
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, sessionID, agentID string, data map[string]interface{})
}

type registration struct {
	name    string
	handler Handler
}

// Bus delivers events synchronously to its handlers in registration order.
// A failing or panicking handler is logged and skipped; it never stops
// delivery to the handlers after it and never reaches the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers []registration
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewBus creates a bus with no handlers
func NewBus(clk clock.Clock, logger zerolog.Logger) *Bus {
	return &Bus{
		clock:  clk,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Register appends a handler. name identifies it in logs.
func (b *Bus) Register(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, registration{name: name, handler: h})
}

// Handlers returns the registered handler names in delivery order
func (b *Bus) Handlers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.handlers))
	for i, r := range b.handlers {
		names[i] = r.name
	}
	return names
}

// Publish builds an event and delivers it
func (b *Bus) Publish(ctx context.Context, eventType EventType, sessionID, agentID string, data map[string]interface{}) {
	b.Deliver(ctx, Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		AgentID:   agentID,
		Data:      data,
		Timestamp: b.clock.Now(),
	})
}

// Deliver hands event to every handler and returns how many succeeded
func (b *Bus) Deliver(ctx context.Context, event Event) int {
	b.mu.RLock()
	handlers := make([]registration, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	ok := 0
	for _, r := range handlers {
		if err := safeHandle(ctx, r.handler, event); err != nil {
			b.logger.Error().Err(err).
				Str("handler", r.name).
				Str("event_type", string(event.Type)).
				Str("session_id", event.SessionID).
				Msg("Event handler failed")
			continue
		}
		ok++
	}
	return ok
}

func safeHandle(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.HandleEvent(ctx, event)
}

// LogHandler writes one structured line per event
type LogHandler struct {
	logger zerolog.Logger
}

// NewLogHandler creates a LogHandler
func NewLogHandler(logger zerolog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With().Str("component", "event_log").Logger()}
}

// HandleEvent implements Handler
func (h *LogHandler) HandleEvent(ctx context.Context, event Event) error {
	h.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("session_id", event.SessionID).
		Str("agent_id", event.AgentID).
		Fields(event.Data).
		Msg("Training event")
	return nil
}
