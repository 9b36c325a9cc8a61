package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azebets/walletsync/internal/domain"
)

func TestBroadcaster_PublishSubscribe(t *testing.T) {
	b := NewBroadcaster(4)
	first, unsubFirst := b.Subscribe()
	second, unsubSecond := b.Subscribe()
	defer unsubSecond()

	event := domain.WalletEvent{Kind: domain.EventBalance, Time: time.Now(), Currency: "USDT", Available: "70"}
	b.Publish(event)

	require.Equal(t, event, <-first)
	require.Equal(t, event, <-second)

	unsubFirst()
	unsubFirst()
	_, open := <-first
	assert.False(t, open, "channel should be closed after unsubscribe")
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroadcaster_DropsForSlowReader(t *testing.T) {
	b := NewBroadcaster(1)
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(domain.WalletEvent{Kind: domain.EventBalance, Currency: "a"})
	b.Publish(domain.WalletEvent{Kind: domain.EventBalance, Currency: "b"})

	got := <-ch
	assert.Equal(t, "a", got.Currency)
	select {
	case e := <-ch:
		t.Fatalf("unexpected buffered event %v", e)
	default:
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(0)
	ch, unsub := b.Subscribe()
	b.Close()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.Subscribers())
}
