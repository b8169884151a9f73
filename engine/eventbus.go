package engine

import (
	"sync"
	"time"
)

type EventType int

type SubscriberID int

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type busSubscriber struct {
	fn     func(Event)
	filter map[EventType]struct{}
}

// EventBus fans engine events out to registered handlers. Handlers run on
// the emitter's goroutine and must not block.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[SubscriberID]*busSubscriber
	order  []SubscriberID
	nextID SubscriberID
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[SubscriberID]*busSubscriber)}
}

// Subscribe registers a handler for all event types.
func (eb *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return eb.add(fn, nil)
}

// SubscribeTypes registers a handler for specific event types.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	filter := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return eb.add(fn, filter)
}

func (eb *EventBus) add(fn func(Event), filter map[EventType]struct{}) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subs[id] = &busSubscriber{fn: fn, filter: filter}
	eb.order = append(eb.order, id)
	return id
}

// Unsubscribe removes a subscriber by ID.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	delete(eb.subs, id)
	for i, sid := range eb.order {
		if sid == id {
			eb.order = append(eb.order[:i], eb.order[i+1:]...)
			return
		}
	}
}

// Emit publishes one event, stamped with the current time, to every
// subscriber whose filter matches, in subscription order.
func (eb *EventBus) Emit(t EventType, payload any) {
	evt := Event{Type: t, Timestamp: time.Now(), Payload: payload}

	eb.mu.RLock()
	fns := make([]func(Event), 0, len(eb.order))
	for _, id := range eb.order {
		s, ok := eb.subs[id]
		if !ok {
			continue
		}
		if s.filter != nil {
			if _, match := s.filter[t]; !match {
				continue
			}
		}
		fns = append(fns, s.fn)
	}
	eb.mu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}
