// Package bus carries best-effort notifications for status surfaces and
// tests. Nothing that must not be lost goes through it; inbound protocol
// events use the ordered events.Dispatcher instead.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe bus with prefix filtering.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	onDrop func(kind string)
}

type subscription struct {
	prefix string
	ch     chan Event
}

// Option configures a Bus.
type Option func(*Bus)

// OnDrop registers a callback for every notification a full subscriber misses.
func OnDrop(fn func(kind string)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[int]*subscription)}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// It never blocks; a zero Timestamp is set to now.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			if b.onDrop != nil {
				b.onDrop(evt.Kind)
			}
		}
	}
}

// Subscribe returns a channel of notifications whose kind starts with prefix,
// buffered to bufSize, and a function that removes the subscription. The
// channel is never closed.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
