package platform

import "sync"

const busBuffer = 100

// bus fans one collection's change events out to subscribers. Each
// subscriber owns a buffered channel; a subscriber that stops draining
// loses events rather than blocking the writer.
type bus[T any] struct {
	mu   sync.RWMutex
	subs map[int]chan T
	next int
}

func newBus[T any]() *bus[T] {
	return &bus[T]{subs: make(map[int]chan T)}
}

func (b *bus[T]) subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan T, busBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (b *bus[T]) publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// Subscriber is not keeping up, drop.
		}
	}
}
