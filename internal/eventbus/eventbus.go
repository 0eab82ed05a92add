// Package eventbus is an in-process publish/subscribe bus for typed
// domain events. Publishers never block on subscribers; a full subscriber
// buffer drops the event rather than stalling the publisher, and a
// failing subscriber never prevents another from receiving.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event is the marker interface implemented by every domain event record.
type Event interface {
	eventKind() string
}

const subscriberBuffer = 64

// Bus fans events out to subscriber channels.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger zerolog.Logger
}

// New builds an event Bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
}

// Subscription is a handle returned by Subscribe; pass it to Unsubscribe
// to stop receiving and release the channel.
type Subscription struct {
	id int
	Ch <-chan Event
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Bus) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return Subscription{id: id, Ch: ch}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(ch)
	}
}

// Publish fans an event out to every current subscriber without blocking.
// Subscribers whose buffer is full skip the event.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn().Int("subscriber", id).Str("event", ev.eventKind()).Msg("subscriber buffer full, event dropped")
		}
	}
}
