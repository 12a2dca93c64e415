package session

import "sync"

// Broadcaster fans one event stream out to any number of subscribers,
// each with its own buffered channel so a slow reader only drops its own
// events instead of blocking the publisher. Grounded on the dashboard
// subscriber registry pattern (subscribe/unsubscribe under a mutex,
// non-blocking send-or-drop on publish).
type Broadcaster[T any] struct {
	mu   sync.RWMutex
	subs map[int]chan T
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a new subscriber with the given buffer depth and
// returns its channel plus an unsubscribe function.
func (b *Broadcaster[T]) Subscribe(buf int) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan T, buf)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers ev to every current subscriber. A full subscriber
// channel drops the event rather than blocking the publisher.
func (b *Broadcaster[T]) Publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
