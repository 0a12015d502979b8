package events

import (
	"sync"

	"github.com/adamavenir/mealsync/internal/types"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Broker fans out meal changes to subscribers. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the change and is
// expected to re-read state on demand.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan types.Change
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan types.Change)}
}

// Subscription is one registered listener.
type Subscription struct {
	C <-chan types.Change

	broker *Broker
	id     int
	once   sync.Once
}

// Subscribe registers a listener with the default buffer.
func (b *Broker) Subscribe() *Subscription {
	return b.SubscribeBuffered(DefaultBuffer)
}

// SubscribeBuffered registers a listener with the given buffer size.
func (b *Broker) SubscribeBuffered(size int) *Subscription {
	if size < 1 {
		size = 1
	}
	ch := make(chan types.Change, size)

	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return &Subscription{C: ch, broker: b, id: id}
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
		if ch, ok := s.broker.subs[s.id]; ok {
			delete(s.broker.subs, s.id)
			close(ch)
		}
	})
}

// Publish delivers change to every subscriber that has room. It returns the
// number of subscribers that received it.
func (b *Broker) Publish(change types.Change) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- change:
			delivered++
		default:
		}
	}
	return delivered
}

// Len returns the number of active subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
