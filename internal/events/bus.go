// Package events routes named workflow and quality events to their handlers,
// validating payloads before dispatch and keeping an append-only audit trail.
package events

import (
	"sync"
	"time"
)

// EventType names one routed event.
type EventType string

const (
	// Workflow lifecycle events feeding SLA tracking.
	EventWorkflowCreated        EventType = "review_workflow_created"
	EventReviewerAssigned       EventType = "reviewer_assigned"
	EventFirstComment           EventType = "first_comment"
	EventWorkflowStatusChanged  EventType = "workflow_status_changed"
	EventWorkflowPriorityChange EventType = "workflow_priority_changed"

	// Breach events re-entering from the escalation side.
	EventSlaBreachWarning    EventType = "sla_breach_warning"
	EventSlaBreachEscalation EventType = "sla_breach_escalation"

	// Quality pipeline events.
	EventFileValidated   EventType = "file_validated"
	EventFileQuarantined EventType = "file_quarantined"
	EventFileRecovered   EventType = "file_recovered"
)

// Event is one published occurrence.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe fanout. Events are delivered
// asynchronously via buffered channels; a full subscriber channel drops the
// event for that subscriber rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for one event type. The subscriber runs
// in its own goroutine; panics inside it are recovered so a broken handler
// cannot take the bus down. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers of the given type without
// blocking.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// Channel full, drop for this subscriber.
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
