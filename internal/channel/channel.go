// Package channel implements domain.Channel over a gorilla/websocket
// connection: the per-connection full-duplex I/O boundary the rest of the
// pipeline treats as given (spec §1: network transport is out of scope,
// consumed only through this interface).
package channel

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/graphscript/evalserver/internal/domain"
)

// writeQueueCapacity bounds the number of frames buffered for async write
// before the channel reports itself as not writable (backpressure).
const writeQueueCapacity = 64

// WSChannel adapts a *websocket.Conn to domain.Channel. Writes are
// asynchronous: Write enqueues a frame on outbox and returns without waiting
// for transmission (it blocks only while outbox is full); a single writer goroutine drains outbox onto the connection, preserving
// FIFO submission order per connection (spec §5).
type WSChannel struct {
	conn      *websocket.Conn
	useBinary bool
	logger    *slog.Logger

	outbox chan domain.Frame
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// New wraps conn as a domain.Channel. useBinary selects the serializer the
// Frame Builder will use for this connection.
func New(conn *websocket.Conn, useBinary bool, logger *slog.Logger) *WSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &WSChannel{
		conn:      conn,
		useBinary: useBinary,
		logger:    logger,
		outbox:    make(chan domain.Frame, writeQueueCapacity),
		done:      make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *WSChannel) writeLoop() {
	for {
		select {
		case f, ok := <-c.outbox:
			if !ok {
				return
			}
			msgType := websocket.TextMessage
			if c.useBinary {
				msgType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(msgType, f.Payload); err != nil {
				c.logger.Error("channel write failed",
					slog.String("request_id", f.RequestID), slog.Any("error", err))
			}
		case <-c.done:
			return
		}
	}
}

// UseBinary implements domain.Channel.
func (c *WSChannel) UseBinary() bool { return c.useBinary }

// IsWritable implements domain.Channel: backpressure is observed when the
// outbound queue is full.
func (c *WSChannel) IsWritable() bool {
	return len(c.outbox) < cap(c.outbox)
}

// Write implements domain.Channel, enqueueing frame for the writer
// goroutine. Ownership of frame's payload transfers to the channel.
func (c *WSChannel) Write(f domain.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return websocket.ErrCloseSent
	}
	c.outbox <- f
	return nil
}

// Close stops the writer goroutine and closes the underlying connection.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	return c.conn.Close()
}
