// Package events provides an in-process publish/subscribe broker carrying
// the store's "changed" notification: a sink flush with a non-empty delta
// is announced to anyone watching for commit activity, such as a metrics
// collector or a compaction scheduler.
package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of notification carried by an Event. The
// store currently raises only Changed; the type exists so additional
// notifications (e.g. a future compaction-complete event) can be added
// without breaking existing subscribers.
type EventType string

const (
	// EventChanged is raised after a sink flush installs a non-empty
	// delta into a partition.
	EventChanged EventType = "store.changed"
)

// Event is one notification delivered to subscribers.
type Event struct {
	Type          EventType
	Timestamp     time.Time
	Partition     string // "explicit" or "inferred"
	Added         int
	Removed       int
	CommitVersion uint64
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution.
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
		eventCh:     make(chan *Event, 100),
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

	sub := make(Subscriber, 50)
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

// PublishChanged is a convenience wrapper matching the Source.ChangedFunc
// signature, so a Broker can be wired directly as a store's notification
// sink for one partition.
func (b *Broker) PublishChanged(partition string) func(added, removed int, commitVersion uint64) {
	return func(added, removed int, commitVersion uint64) {
		b.Publish(&Event{
			Type:          EventChanged,
			Partition:     partition,
			Added:         added,
			Removed:       removed,
			CommitVersion: commitVersion,
		})
	}
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
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
