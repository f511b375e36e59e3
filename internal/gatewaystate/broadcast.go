package gatewaystate

import (
	"sync"

	"github.com/adred-codev/gatewaymux/internal/protocol"
)

// DispatchEvent is one item published on a shard's broadcast: the raw
// payload text plus, if this is a renumberable dispatch, the byte
// range of its "s" field.
type DispatchEvent struct {
	Payload []byte
	SeqLoc  *protocol.SequenceLocation
}

// Broadcaster is a bounded, multi-consumer publish channel. A
// subscriber only observes events published after it subscribed.
// Slow subscribers never block Publish: once a subscriber's buffer is
// full, further events are dropped for that subscriber alone.
type Broadcaster struct {
	mu          sync.Mutex
	nextID      int64
	capacity    int
	subscribers map[int64]chan DispatchEvent
}

// NewBroadcaster builds a broadcaster whose per-subscriber buffer
// holds capacity events before it starts dropping.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = 1
	}
	return &Broadcaster{capacity: capacity, subscribers: make(map[int64]chan DispatchEvent)}
}

// Subscribe registers a new subscriber and returns its event channel
// and an unsubscribe function. The returned channel only ever receives
// events published after this call returns.
func (b *Broadcaster) Subscribe() (<-chan DispatchEvent, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan DispatchEvent, b.capacity)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish fans an event out to every current subscriber, non-blocking.
// It returns the number of subscribers that received the event and the
// number that dropped it because their buffer was full.
func (b *Broadcaster) Publish(ev DispatchEvent) (delivered, dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}
