package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is the process-wide publish/subscribe hub. Dispatch is synchronous on
// the publisher's goroutine and iterates a snapshot of the subscriber list,
// so subscribing or unsubscribing from inside a handler never affects the
// delivery already in flight.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Bus {
	return &Bus{
		subs:   make(map[Kind][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one event kind and returns its
// unsubscribe function. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(kind Kind, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[kind]
		for i, s := range list {
			if s.id == id {
				b.subs[kind] = append(append([]subscription(nil), list[:i]...), list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every subscriber registered for its kind, in
// registration order. Delivery is best-effort: a panicking subscriber is
// logged and the remaining subscribers still run.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	snapshot := append([]subscription(nil), b.subs[ev.Kind()]...)
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"event_kind":    ev.Kind(),
				"subscriber_id": s.id,
				"panic":         r,
			}).Error("Event subscriber panicked")
		}
	}()
	s.handler(ev)
}
