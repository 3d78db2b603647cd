// Package signal is the WebSocket transport for match chat.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/concort/internal/core"
	"github.com/gorilla/websocket"
)

var ErrBackpressure = errors.New("backpressure")

// ConnOptions tunes one WebSocket connection.
type ConnOptions struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

func (o ConnOptions) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

var _ core.Channel = (*WsChatConn)(nil)

// WsChatConn adapts a gorilla connection to core.Channel. Outbound frames
// go through a bounded queue drained by WritePump; Receive must be called
// from a single goroutine.
type WsChatConn struct {
	conn *websocket.Conn
	opts ConnOptions
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewWsChatConn(conn *websocket.Conn, opts ConnOptions) *WsChatConn {
	opts = opts.withDefaults()
	c := &WsChatConn{
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}
	conn.SetReadLimit(opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(opts.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.pongWait()))
	})
	return c
}

// Send queues ev. It fails with ErrBackpressure when the queue stays full
// until ctx expires.
func (c *WsChatConn) Send(ctx context.Context, ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	select {
	case <-c.done:
		return core.ErrChannelClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return core.ErrChannelClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrBackpressure, ctx.Err())
	}
}

// Receive reads the next frame. Transport failures yield ErrChannelClosed;
// malformed frames yield a decode error and leave the connection usable.
func (c *WsChatConn) Receive(ctx context.Context) (core.InboundEvent, error) {
	if err := ctx.Err(); err != nil {
		return core.InboundEvent{}, core.ErrChannelClosed
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return core.InboundEvent{}, fmt.Errorf("%w: %w", core.ErrChannelClosed, err)
	}
	var ev core.InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return core.InboundEvent{}, fmt.Errorf("decode frame: %w", err)
	}
	return ev, nil
}

// Close sends a close frame and drops the socket. Idempotent.
func (c *WsChatConn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
		_ = c.conn.Close()
	})
}

// Done is closed once the connection has been closed.
func (c *WsChatConn) Done() <-chan struct{} { return c.done }
