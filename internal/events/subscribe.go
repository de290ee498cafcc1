package events

import (
	"sync"

	"github.com/kelindar/event"
)

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels
// This is needed for SSE integration where Huma expects a channel-based select loop.
// Events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}

// Subscription delivers every Message in publish order. Unlike
// SubscribeToChannel nothing is dropped: a slow reader only delays its
// own delivery goroutine.
type Subscription struct {
	C <-chan Message

	done  chan struct{}
	once  sync.Once
	unsub func()
}

// SubscribeMessages starts a lossless Message subscription.
func SubscribeMessages(bus *Bus) *Subscription {
	ch := make(chan Message, 64)
	done := make(chan struct{})
	s := &Subscription{C: ch, done: done}
	s.unsub = event.Subscribe(bus.dispatcher, func(m Message) {
		select {
		case ch <- m:
		case <-done:
		}
	})
	return s
}

// Close stops delivery. Pending messages are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.unsub()
	})
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
