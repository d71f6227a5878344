// Package eventbus implements the gateway's in-memory pub/sub fan-out,
// feeding the SSE handlers of chat_events, log_events and
// job_events channels. Publish never blocks: a slow subscriber's queue fills
// up, the oldest entries are dropped, and the subscriber later receives a
// synthetic "lagged" event carrying the drop count.
package eventbus

import (
	"sync"
	"sync/atomic"
)

const (
	// DefaultQueueCapacity matches sse_queue_capacity's documented default.
	DefaultQueueCapacity = 512

	EventLagged = "lagged"
)

// Event is one message published on a channel.
type Event struct {
	SessionID string
	Name      string
	Data      map[string]interface{}
}

// Subscriber is a handle returned by Subscribe. Events arrives on Events();
// Close releases the subscriber's queue and must be called, typically from a
// deferred call in the SSE handler on client disconnect; calls after the
// first are no-ops.
type Subscriber struct {
	ch      chan Event
	dropped int64
	lagging int32
	bus     *Bus
	channel string
	closed  int32
}

// Events returns the channel of inbound events for this subscriber.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscriber from its bus and releases its queue.
func (s *Subscriber) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.bus.unsubscribe(s.channel, s)
}

// Bus is a process-wide singleton; each logical channel (e.g.
// "chat_events:<session_id>") gets its own set of subscribers and its own
// bounded queues.
type Bus struct {
	capacity int
	mu       sync.RWMutex
	subs     map[string][]*Subscriber

	// OnDrop, when set, is invoked whenever a subscriber's queue overflows
	// and an event is dropped, so callers can surface it as a metric.
	OnDrop func(channel string)
}

// New returns an empty Bus with the given per-subscriber queue capacity.
// A non-positive capacity falls back to DefaultQueueCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Bus{capacity: capacity, subs: make(map[string][]*Subscriber)}
}

// Subscribe registers a new subscriber on channel and returns its handle.
func (b *Bus) Subscribe(channel string) *Subscriber {
	sub := &Subscriber{
		ch:      make(chan Event, b.capacity),
		bus:     b,
		channel: channel,
	}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(channel string, target *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[channel]
	for i, s := range list {
		if s == target {
			b.subs[channel] = append(list[:i], list[i+1:]...)
			close(target.ch)
			break
		}
	}
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
}

// Publish fans ev out to every subscriber on channel. It never blocks: a
// subscriber whose queue is full has its oldest buffered event dropped to
// make room, and is flagged to receive a synthetic "lagged" event as soon
// as it next drains its queue. The read lock is held across the fan-out so
// an unsubscribe cannot close a queue mid-send; enqueue never blocks, so
// the hold is bounded.
func (b *Bus) Publish(channel string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[channel] {
		b.enqueue(sub, ev)
	}
}

func (b *Bus) enqueue(sub *Subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Queue full: drop the oldest buffered event to make room, count the
	// drop, and mark the subscriber as lagging so it gets a synthetic event
	// once it drains.
	select {
	case <-sub.ch:
		atomic.AddInt64(&sub.dropped, 1)
		b.notifyDrop(sub.channel)
	default:
	}
	atomic.StoreInt32(&sub.lagging, 1)

	select {
	case sub.ch <- ev:
	default:
		atomic.AddInt64(&sub.dropped, 1)
		b.notifyDrop(sub.channel)
	}
}

func (b *Bus) notifyDrop(channel string) {
	if b.OnDrop != nil {
		b.OnDrop(channel)
	}
}

// DrainLag returns and resets the subscriber's accumulated drop count; the
// caller uses this to synthesize a "lagged" event for the stream once
// dropped count is non-zero.
func (s *Subscriber) DrainLag() (int64, bool) {
	if atomic.LoadInt32(&s.lagging) == 0 {
		return 0, false
	}
	n := atomic.SwapInt64(&s.dropped, 0)
	atomic.StoreInt32(&s.lagging, 0)
	return n, n > 0
}
