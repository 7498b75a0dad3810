package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification emitted while a catalog is applied.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Bucket is the name of the submitting manifest instance.
	Bucket string `json:"bucket,omitempty"`

	// Resource is the Type[name] reference, if applicable.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeCatalogStarted   = "catalog.started"
	EventTypeCatalogCompleted = "catalog.completed"
	EventTypeResourceChanged  = "resource.changed"
	EventTypeResourceInSync   = "resource.in_sync"
	EventTypeResourceFailed   = "resource.failed"
	EventTypeResourceSkipped  = "resource.skipped"
	EventTypePolicyViolation  = "policy.violation"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In synchronous mode
// subscribers run on the publishing goroutine in subscription order; in
// async mode a single background goroutine delivers them in publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan queued
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closed      bool
}

// queued is a buffered event, or a flush barrier when done is set.
type queued struct {
	event Event
	done  chan struct{}
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep.buffer = make(chan queued, cfg.BufferSize)
	ep.wg.Add(1)
	go ep.processEvents()
	return ep, nil
}

// Publish delivers an event to every matching subscriber.
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
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.buffer == nil {
		ep.deliverEvent(event)
		return nil
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return fmt.Errorf("event publisher stopped")
	}
	select {
	case ep.buffer <- queued{event: event}:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishResource publishes a resource event.
func (ep *EventPublisher) PublishResource(eventType, bucket, ref, message string) error {
	level := EventLevelInfo
	switch eventType {
	case EventTypeResourceFailed:
		level = EventLevelError
	case EventTypeResourceSkipped:
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:     eventType,
		Bucket:   bucket,
		Resource: ref,
		Message:  message,
		Level:    level,
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(bucket, ref, policyName, message string) error {
	return ep.Publish(Event{
		Type:     EventTypePolicyViolation,
		Bucket:   bucket,
		Resource: ref,
		Message:  message,
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
		},
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

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for q := range ep.buffer {
		if q.done != nil {
			close(q.done)
			continue
		}
		ep.deliverEvent(q.event)
	}
}

// Flush blocks until every event published before the call has been
// delivered. It returns immediately in synchronous mode.
func (ep *EventPublisher) Flush(ctx context.Context) error {
	if ep == nil || ep.buffer == nil {
		return nil
	}

	done := make(chan struct{})
	ep.mu.RLock()
	if ep.closed {
		ep.mu.RUnlock()
		return nil
	}
	select {
	case ep.buffer <- queued{done: done}:
		ep.mu.RUnlock()
	case <-ctx.Done():
		ep.mu.RUnlock()
		return fmt.Errorf("event publisher flush: %w", ctx.Err())
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher flush: %w", ctx.Err())
	}
}

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

// Shutdown drains pending events and stops the delivery goroutine.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.buffer == nil {
		return nil
	}

	ep.mu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.buffer)
	}
	ep.mu.Unlock()

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
