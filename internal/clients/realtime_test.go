package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGameServer acks every command except those named in ignore and pushes
// a snapshot event after each acked bet.
func fakeGameServer(t *testing.T, ignore map[string]bool, reject map[string]string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if ignore[env.Event] {
				continue
			}
			if err := conn.WriteJSON(Envelope{Event: ackEvent, ID: env.ID, Error: reject[env.Event]}); err != nil {
				return
			}
			if env.Event == "hilo-bet" {
				_ = conn.WriteJSON(Envelope{Event: "hilo-game", Data: json.RawMessage(`{"user_id":"42","round":1}`)})
			}
		}
	}))
}

func dialTest(t *testing.T, srv *httptest.Server, ackTimeout time.Duration) *RealtimeChannel {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ch, err := DialRealtime(context.Background(), url, nil, ackTimeout, zap.NewNop())
	require.NoError(t, err)
	return ch
}

func TestRealtimeChannel_EmitAndReceive(t *testing.T) {
	srv := fakeGameServer(t, nil, nil)
	defer srv.Close()

	ch := dialTest(t, srv, time.Second)
	got := make(chan json.RawMessage, 1)
	ch.On("hilo-game", func(data json.RawMessage) { got <- data })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Listen(ctx) }()

	require.NoError(t, ch.Emit(ctx, "hilo-bet", map[string]string{"bet_amount": "1"}))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"user_id":"42","round":1}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not delivered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, ch.Emit(context.Background(), "hilo-bet", nil), ErrChannelClosed)
}

func TestRealtimeChannel_NoAck(t *testing.T) {
	srv := fakeGameServer(t, map[string]bool{"hilo-cashout": true}, nil)
	defer srv.Close()

	ch := dialTest(t, srv, 30*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ch.Listen(ctx) }()

	err := ch.Emit(ctx, "hilo-cashout", nil)
	assert.ErrorIs(t, err, ErrNoAck)
}

func TestRealtimeChannel_RejectedAck(t *testing.T) {
	srv := fakeGameServer(t, nil, map[string]string{"hilo-init": "round closed"})
	defer srv.Close()

	ch := dialTest(t, srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ch.Listen(ctx) }()

	err := ch.Emit(ctx, "hilo-init", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAck)
	assert.Contains(t, err.Error(), "round closed")
}

func TestRealtimeChannel_CloseTwice(t *testing.T) {
	srv := fakeGameServer(t, nil, nil)
	defer srv.Close()

	ch := dialTest(t, srv, time.Second)
	require.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())
}
