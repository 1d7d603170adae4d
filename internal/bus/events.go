package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"screenrelay/internal/domain"
)

// Pipeline event topics.
const (
	EventState  = "pipeline.state"  // State holds the state just entered
	EventEcho   = "pipeline.echo"   // the user's message reached the display
	EventToken  = "pipeline.token"  // Payload["token"], Payload["index"]
	EventFailed = "pipeline.failed" // Payload["kind"], Payload["error"]
	EventDone   = "pipeline.done"   // Payload["tokens"]

	EventRejected = "pipeline.rejected" // a send refused by a full queue
	EventDropped  = "pipeline.dropped"  // a waiting send evicted by drop-oldest
)

const defaultMaxHistory = 1000

// Event is one step in the life of a pipeline run.
type Event struct {
	Type         string
	Run          string // run ID
	Conversation string
	State        domain.PipelineState
	Payload      map[string]any
	Timestamp    time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus for pipeline events.
// Handlers run synchronously in registration order on the emitting
// goroutine; a panicking handler is logged and skipped.
type EventBus struct {
	handlers   map[string][]namedHandler
	nextID     int
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates an EventBus keeping the last 1000 events for ReplayRun.
func NewEventBus(logger *slog.Logger) *EventBus {
	return NewEventBusWithHistory(logger, defaultMaxHistory)
}

func NewEventBusWithHistory(logger *slog.Logger, maxHistory int) *EventBus {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events.
func (eb *EventBus) On(eventType string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
}

// Emit records event in the history and calls every matching handler.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)

	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// ReplayRun returns the recorded events of one run, oldest first.
func (eb *EventBus) ReplayRun(runID string) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Run == runID {
			result = append(result, e)
		}
	}
	return result
}
