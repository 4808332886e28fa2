package util

import "sync"

// Broadcaster delivers values to subscribers in the order they were queued. A
// publisher calls Queue while still holding the lock that orders its writes, then
// Flush once it has released it. When another goroutine is already flushing, that
// goroutine delivers the new value after the ones before it, so subscribers may
// publish again from inside their callback.
//
// The zero value is ready to use.
type Broadcaster[T any] struct {
	mu       sync.Mutex
	queue    []T
	flushing bool
	subs     map[int]func(T)
	nextSub  int
}

func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(T))
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Queue records v for delivery. It never calls subscribers.
func (b *Broadcaster[T]) Queue(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return
	}
	b.queue = append(b.queue, v)
}

// Flush delivers queued values, or leaves them to the goroutine already doing so.
func (b *Broadcaster[T]) Flush() {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return
	}
	b.flushing = true
	for len(b.queue) > 0 {
		v := b.queue[0]
		var zero T
		b.queue[0] = zero
		b.queue = b.queue[1:]
		fns := make([]func(T), 0, len(b.subs))
		for _, fn := range b.subs {
			fns = append(fns, fn)
		}
		b.mu.Unlock()
		for _, fn := range fns {
			fn(v)
		}
		b.mu.Lock()
	}
	b.queue = nil
	b.flushing = false
	b.mu.Unlock()
}
