// Package events is the in-process notification bus for the queueing
// pipeline. Subscribers run synchronously on the publishing goroutine, in
// subscription order.
package events

import (
	"sync"

	"github.com/sungwon/mailer/internal/mail"
)

// QueuedFunc is notified after a record has been handed to the broker.
type QueuedFunc func(rec *mail.Record)

// QueueErrorFunc is notified when preparing or enqueueing a record failed.
type QueueErrorFunc func(err error)

// Bus fans events out to registered subscribers. The zero value is ready to
// use.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	queued  map[int]QueuedFunc
	qErrors map[int]QueueErrorFunc
	order   []int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// OnQueued subscribes fn to Queued events. The returned func unsubscribes.
func (b *Bus) OnQueued(fn QueuedFunc) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queued == nil {
		b.queued = make(map[int]QueuedFunc)
	}
	id := b.register()
	b.queued[id] = fn
	return func() { b.remove(id) }
}

// OnQueueError subscribes fn to QueueError events. The returned func
// unsubscribes.
func (b *Bus) OnQueueError(fn QueueErrorFunc) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.qErrors == nil {
		b.qErrors = make(map[int]QueueErrorFunc)
	}
	id := b.register()
	b.qErrors[id] = fn
	return func() { b.remove(id) }
}

// PublishQueued notifies Queued subscribers. A nil Bus is a no-op.
func (b *Bus) PublishQueued(rec *mail.Record) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]QueuedFunc, 0, len(b.queued))
	for _, id := range b.order {
		if fn, ok := b.queued[id]; ok {
			subs = append(subs, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(rec)
	}
}

// PublishQueueError notifies QueueError subscribers. A nil Bus is a no-op.
func (b *Bus) PublishQueueError(err error) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]QueueErrorFunc, 0, len(b.qErrors))
	for _, id := range b.order {
		if fn, ok := b.qErrors[id]; ok {
			subs = append(subs, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(err)
	}
}

// register must be called with mu held.
func (b *Bus) register() int {
	b.nextID++
	b.order = append(b.order, b.nextID)
	return b.nextID
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queued, id)
	delete(b.qErrors, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
