// Package bus decouples the transport's event-dispatch goroutine from the
// inbound relay. Publishing never blocks: when the queue is full the oldest
// message is dropped.
package bus

import (
	"context"
	"sync"
)

// DefaultCapacity is the inbound queue depth used by NewMessageBus.
const DefaultCapacity = 100

// Subscriber is a named tap on the inbound stream. Multiple subscribers can
// independently observe the same messages (fan-out).
type Subscriber struct {
	Name string
	ch   chan InboundMessage
}

// MessageBus is a bounded, non-blocking inbound queue with fan-out taps.
type MessageBus struct {
	inbound   chan InboundMessage
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	dropped   uint64

	inboundSubs []*Subscriber
}

// NewMessageBus creates a bus with DefaultCapacity.
func NewMessageBus() *MessageBus {
	return NewMessageBusWithCapacity(DefaultCapacity)
}

// NewMessageBusWithCapacity creates a bus whose inbound queue holds capacity
// messages. Non-positive values fall back to DefaultCapacity.
func NewMessageBusWithCapacity(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageBus{
		inbound: make(chan InboundMessage, capacity),
	}
}

// SubscribeInboundTap creates a named subscriber that receives copies of all
// inbound messages. The returned channel is buffered; slow consumers drop.
func (mb *MessageBus) SubscribeInboundTap(name string) <-chan InboundMessage {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan InboundMessage, 64)}
	mb.inboundSubs = append(mb.inboundSubs, sub)
	return sub.ch
}

// PublishInbound enqueues msg for the primary consumer and copies it to every
// tap. It never blocks.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}

	for _, sub := range mb.inboundSubs {
		select {
		case sub.ch <- msg:
		default:
		}
	}

	select {
	case mb.inbound <- msg:
	default:
		// Queue full: drop oldest and retry once.
		select {
		case <-mb.inbound:
			mb.dropped++
		default:
		}
		select {
		case mb.inbound <- msg:
		default:
			mb.dropped++
		}
	}
}

// ConsumeInbound blocks until a message is available, ctx is done or the bus
// is closed.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Dropped returns how many messages were discarded because the queue was full.
func (mb *MessageBus) Dropped() uint64 {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.dropped
}

// Close stops the bus: later publishes are ignored, every tap is closed and
// ConsumeInbound drains what is queued before reporting false. Safe to call
// more than once.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		for _, sub := range mb.inboundSubs {
			close(sub.ch)
		}
		close(mb.inbound)
		mb.mu.Unlock()
	})
}
