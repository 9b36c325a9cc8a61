package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ackEvent          = "ack"
	defaultAckTimeout = 5 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 54 * time.Second
)

var (
	// ErrNoAck is returned when the server does not acknowledge a command in time.
	ErrNoAck = errors.New("command not acknowledged")
	// ErrChannelClosed is returned by Emit after Close or a dropped connection.
	ErrChannelClosed = errors.New("realtime channel closed")
)

// Envelope is the wire frame of the realtime channel.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Handler receives the payload of an inbound event.
type Handler func(data json.RawMessage)

// RealtimeChannel is a websocket event channel keyed by event name. Commands
// carry a correlation id the server echoes back in an ack frame.
type RealtimeChannel struct {
	conn       *websocket.Conn
	ackTimeout time.Duration
	logger     *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string][]Handler
	pending  map[string]chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// DialRealtime opens the websocket at url.
func DialRealtime(ctx context.Context, url string, header http.Header, ackTimeout time.Duration, logger *zap.Logger) (*RealtimeChannel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %s", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewRealtimeChannel(conn, ackTimeout, logger), nil
}

// NewRealtimeChannel wraps an established connection.
func NewRealtimeChannel(conn *websocket.Conn, ackTimeout time.Duration, logger *zap.Logger) *RealtimeChannel {
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeChannel{
		conn:       conn,
		ackTimeout: ackTimeout,
		logger:     logger,
		handlers:   make(map[string][]Handler),
		pending:    make(map[string]chan Envelope),
		done:       make(chan struct{}),
	}
}

// On registers a handler for an inbound event.
func (c *RealtimeChannel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Emit sends a command and waits for its ack. A missing ack within the ack
// timeout yields ErrNoAck; a negative ack yields its error text.
func (c *RealtimeChannel) Emit(ctx context.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", event)
	}

	id := uuid.NewString()
	ack := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(Envelope{Event: event, ID: id, Data: payload}); err != nil {
		return err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case a := <-ack:
		if a.Error != "" {
			return errors.Errorf("%s rejected: %s", event, a.Error)
		}
		return nil
	case <-timer.C:
		return errors.Wrap(ErrNoAck, event)
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen reads frames until the connection drops or ctx ends. Ack frames
// complete pending commands, everything else goes to the event handlers.
func (c *RealtimeChannel) Listen(ctx context.Context) error {
	go c.keepAlive(ctx)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "realtime read")
		}
		c.dispatch(msg)
	}
}

// Close ends the channel. It is safe to call more than once.
func (c *RealtimeChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *RealtimeChannel) dispatch(msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.Warn("dropping malformed realtime frame", zap.Error(err))
		return
	}

	if env.Event == ackEvent {
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- env:
			default:
			}
		}
		return
	}

	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[env.Event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(env.Data)
	}
}

func (c *RealtimeChannel) write(env Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return errors.Wrapf(c.conn.WriteJSON(env), "write %s", env.Event)
}

func (c *RealtimeChannel) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("realtime ping failed", zap.Error(err))
				return
			}
		}
	}
}
