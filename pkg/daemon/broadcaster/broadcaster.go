// Package broadcaster manages subscribers and distributes alert events.
package broadcaster

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 100

// Subscriber represents a client subscribed to alert events.
type Subscriber struct {
	ID string
	// Actions limits delivery to these actions; empty means all.
	Actions []types.AlertAction
	Events  chan types.AlertEvent
}

// Broadcaster manages subscribers and distributes alert events. Delivery never
// blocks: a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
	dropped     atomic.Int64
}

// New creates a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe creates a new subscription. It returns nil once the broadcaster
// is closed.
func (b *Broadcaster) Subscribe(actions ...types.AlertAction) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:      uuid.New().String(),
		Actions: actions,
		Events:  make(chan types.AlertEvent, DefaultBuffer),
	}

	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Notify sends an event to all matching subscribers.
func (b *Broadcaster) Notify(ev types.AlertEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if !matches(sub, ev) {
			continue
		}
		select {
		case sub.Events <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func matches(sub *Subscriber, ev types.AlertEvent) bool {
	if len(sub.Actions) == 0 {
		return true
	}
	for _, a := range sub.Actions {
		if a == ev.Action {
			return true
		}
	}
	return false
}

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many events were discarded because a subscriber was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
