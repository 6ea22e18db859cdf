package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is a notification about an import.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the emitting component (importer, watcher).
	Source string `json:"source"`

	// ImportID is the associated import, if applicable.
	ImportID string `json:"import_id,omitempty"`

	// Location is the workbook path or URL, if applicable.
	Location string `json:"location,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeImportStarted   = "import.started"
	EventTypeImportCompleted = "import.completed"
	EventTypeImportFailed    = "import.failed"
	EventTypeImportSkipped   = "import.skipped"
	EventTypeWorkbookChanged = "workbook.changed"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans import events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. Synchronous publishers
// deliver before returning; asynchronous ones drop the event when the
// buffer is full.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishImportStarted publishes an import started event.
func (ep *EventPublisher) PublishImportStarted(importID, location string) error {
	return ep.Publish(Event{
		Type:     EventTypeImportStarted,
		Source:   "importer",
		ImportID: importID,
		Location: location,
		Message:  fmt.Sprintf("Import %s started for %s", importID, location),
		Level:    EventLevelInfo,
	})
}

// PublishImportCompleted publishes an import completed event.
func (ep *EventPublisher) PublishImportCompleted(importID, location string, rows, rejected int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeImportCompleted,
		Source:   "importer",
		ImportID: importID,
		Location: location,
		Message:  fmt.Sprintf("Import %s completed: %d rows, %d rejected", importID, rows, rejected),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"rows":     rows,
			"rejected": rejected,
			"duration": duration.Seconds(),
		},
	})
}

// PublishImportFailed publishes an import failed event.
func (ep *EventPublisher) PublishImportFailed(importID, location, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeImportFailed,
		Source:   "importer",
		ImportID: importID,
		Location: location,
		Message:  fmt.Sprintf("Import %s failed: %s", importID, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishImportSkipped publishes an event for a workbook whose content was
// already imported.
func (ep *EventPublisher) PublishImportSkipped(location, checksum string) error {
	return ep.Publish(Event{
		Type:     EventTypeImportSkipped,
		Source:   "importer",
		Location: location,
		Message:  fmt.Sprintf("Workbook %s already imported", location),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"checksum": checksum,
		},
	})
}

// PublishWorkbookChanged publishes a watcher change notification.
func (ep *EventPublisher) PublishWorkbookChanged(location string) error {
	return ep.Publish(Event{
		Type:     EventTypeWorkbookChanged,
		Source:   "watcher",
		Location: location,
		Message:  fmt.Sprintf("Workbook %s changed", location),
		Level:    EventLevelInfo,
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// LogSubscriber writes events to logger: errors at error level, warnings
// at warn level and everything else at info.
func LogSubscriber(logger *Logger) EventSubscriber {
	return func(event Event) {
		level := zerolog.InfoLevel
		switch event.Level {
		case EventLevelWarning:
			level = zerolog.WarnLevel
		case EventLevelError:
			level = zerolog.ErrorLevel
		}
		e := logger.zlog.WithLevel(level).
			Str("event", event.Type).
			Str("source", event.Source)
		if event.ImportID != "" {
			e = e.Str("import_id", event.ImportID)
		}
		if event.Location != "" {
			e = e.Str("location", event.Location)
		}
		if len(event.Data) > 0 {
			e = e.Fields(event.Data)
		}
		e.Msg(event.Message)
	}
}

// JSONSubscriber writes each event to w as one JSON line.
func JSONSubscriber(w io.Writer) EventSubscriber {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(event)
	}
}

// processEvents drains the buffer in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batchSize := ep.config.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batch := make([]Event, 0, batchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= batchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls matching subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
