// Package bus implements the engine's publish/subscribe event channel.
//
// Delivery is synchronous, in-process fan-out to the subscribers registered
// at publish time; subscribers added later never see earlier events. There
// is no buffering and no delivery guarantee beyond the synchronous call.
package bus

import (
	"sync"
	"time"
)

// Type identifies an event kind
type Type string

const (
	ServiceInstantiated Type = "service:instantiated"
	ServiceStarted      Type = "service:started"
	ServiceStopped      Type = "service:stopped"
	SimulationData      Type = "simulation:data"
	SimulationError     Type = "simulation:error"
	SimulationComplete  Type = "simulation:complete"
	BundleCreated       Type = "bundle:created"
)

// Event is one published occurrence
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Handler receives published events. Handlers run on the publisher's
// goroutine; slow handlers slow the publisher.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
	types   map[Type]struct{} // nil matches every type
}

// Bus is a synchronous publish/subscribe channel
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []*subscription
}

// New creates an event bus
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for the given event types; no types means
// all types. The returned function removes the subscription.
func (b *Bus) Subscribe(h Handler, types ...Type) func() {
	var filter map[Type]struct{}
	if len(types) > 0 {
		filter = make(map[Type]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: h, types: filter}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to every matching subscriber, in subscription
// order, before returning.
func (b *Bus) Publish(t Type, payload interface{}) {
	ev := Event{Type: t, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.types == nil {
			matched = append(matched, s.handler)
			continue
		}
		if _, ok := s.types[t]; ok {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()

	// Handlers run outside the lock so they may subscribe or unsubscribe.
	for _, h := range matched {
		h(ev)
	}
}

// SubscriberCount returns the number of registered subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
