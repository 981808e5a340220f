package events

import (
	"sync"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// EventType names a kind of commit notification subscribers can watch
// for on the event stream.
type EventType string

const (
	EventDocumentInserted  EventType = "document.inserted"
	EventDocumentUpdated   EventType = "document.updated"
	EventDocumentDeleted   EventType = "document.deleted"
	EventCollectionCreated EventType = "collection.created"
	EventCollectionDropped EventType = "collection.dropped"
	EventConflictDetected  EventType = "conflict.detected"
	EventConflictResolved  EventType = "conflict.resolved"
	EventViewChanged       EventType = "consensus.view_changed"
	EventPeerIsolated      EventType = "consensus.peer_isolated"
	EventTierPromoted      EventType = "tier.promoted"
	EventTierDemoted       EventType = "tier.demoted"
)

// Event is one commit notification: the record of a state change the
// query engine, reconciler, or an external watcher may care about.
type Event struct {
	ID         string
	Type       EventType
	Timestamp  time.Time
	Collection string
	DocumentID string
	Round      uint64 // consensus round that produced this event, if any
	Message    string
	Metadata   map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans committed operations out to every subscriber of the event
// stream: one buffered intake channel, broadcast to N per-subscriber
// buffered channels, with slow subscribers dropped rather than blocking
// the broker.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// PublishOutcome converts a committed operation and its apply outcome
// into an Event and publishes it, deriving EventType from op.Kind.
func (b *Broker) PublishOutcome(round uint64, op types.Operation, outcome types.ApplyOutcome) {
	if !outcome.Applied {
		return
	}
	var eventType EventType
	switch op.Kind {
	case types.OpInsert:
		eventType = EventDocumentInserted
	case types.OpUpdate:
		eventType = EventDocumentUpdated
	case types.OpDelete:
		eventType = EventDocumentDeleted
	case types.OpCreateCollection:
		eventType = EventCollectionCreated
	case types.OpDropCollection:
		eventType = EventCollectionDropped
	default:
		return
	}

	b.Publish(&Event{
		Type:       eventType,
		Collection: op.Collection,
		DocumentID: op.DocumentID,
		Round:      round,
	})
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, drop rather than block the broker.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
