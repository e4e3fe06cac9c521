// Package events provides the typed event bus used for observability output.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	// ParametersPublished is emitted on every successful publish with the
	// previous and new parameter values
	ParametersPublished EventType = "PARAMETERS_PUBLISHED"
	// SpreadFloorClamped is emitted when the model spread is overridden by
	// the configured minimum. It is a policy event, not an error.
	SpreadFloorClamped EventType = "SPREAD_FLOOR_CLAMPED"
	// GammaAdjusted is emitted when an adaptation strategy moves gamma
	GammaAdjusted EventType = "GAMMA_ADJUSTED"
	// DataProviderFailed is emitted when a bar fetch fails or times out
	DataProviderFailed EventType = "DATA_PROVIDER_FAILED"

	EngineStarted   EventType = "ENGINE_STARTED"
	EngineStopped   EventType = "ENGINE_STOPPED"
	BackupCompleted EventType = "BACKUP_COMPLETED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Handler receives emitted events. Handlers must not block; slow consumers
// should buffer internally and drop when full.
type Handler func(*Event)

// Bus handles event emission, subscription and logging
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit emits an event to all subscribed handlers
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}

	// Log event
	eventJSON, _ := json.Marshal(event)
	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits a DataProviderFailed-style error event with context
func (b *Bus) EmitError(eventType EventType, module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error": err.Error(),
	}
	for k, v := range context {
		data[k] = v
	}
	b.Emit(eventType, module, data)
}
