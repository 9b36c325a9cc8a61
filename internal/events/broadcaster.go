// Package events fans wallet notifications out to subscribers.
package events

import (
	"sync"

	"github.com/azebets/walletsync/internal/domain"
)

const defaultBuffer = 64

// Broadcaster fans out wallet events to all subscribers via buffered channels.
// A subscriber that does not keep up loses events rather than blocking the wallet.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.WalletEvent]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[chan domain.WalletEvent]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping it for slow readers.
func (b *Broadcaster) Publish(e domain.WalletEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel. The function is safe to call twice.
func (b *Broadcaster) Subscribe() (<-chan domain.WalletEvent, func()) {
	ch := make(chan domain.WalletEvent, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(ch) })
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broadcaster) unsubscribe(ch chan domain.WalletEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
