package websocket

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/relay"
	"github.com/c360/plyrelay/session"
)

const closeWriteTimeout = time.Second

// Conn adapts a gorilla connection to relay.Conn.
//
// gorilla allows one concurrent reader and one concurrent writer. Receive is
// only called from the connection's own handler goroutine, while sends come
// from any broadcasting producer, so writes are serialized by writeMu. Close
// and ping use WriteControl, which gorilla allows alongside other writes.
type Conn struct {
	ws           *websocket.Conn
	id           string
	remote       string
	writeTimeout time.Duration
	idleTimeout  time.Duration
	metrics      *serverMetrics

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	lastPong  atomic.Int64
}

func newConn(ws *websocket.Conn, cfg Config, metrics *serverMetrics) *Conn {
	c := &Conn{
		ws:           ws,
		id:           uuid.NewString(),
		remote:       ws.RemoteAddr().String(),
		writeTimeout: cfg.WriteTimeout,
		metrics:      metrics,
	}
	if cfg.PingInterval > 0 {
		c.idleTimeout = 2 * cfg.PingInterval
	}
	c.lastPong.Store(time.Now().UnixNano())

	ws.SetReadLimit(cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return c.extendReadDeadline()
	})
	return c
}

// ID returns the connection id assigned at upgrade.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// SendText writes a text message.
func (c *Conn) SendText(ctx context.Context, text string) error {
	return c.write(ctx, websocket.TextMessage, []byte(text))
}

// SendBinary writes a binary message.
func (c *Conn) SendBinary(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.BinaryMessage, data)
}

func (c *Conn) write(ctx context.Context, messageType int, data []byte) error {
	if c.closed.Load() {
		return session.ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrConnClosed, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return c.classify(err, "SendMessage", "set write deadline")
	}

	if err := c.ws.WriteMessage(messageType, data); err != nil {
		c.metrics.writeFailed()
		return c.classify(err, "SendMessage", "write message")
	}
	c.metrics.wrote(len(data))
	return nil
}

// Receive blocks for the next data frame. Cancelling ctx does not interrupt a
// blocked read; the server unblocks readers by closing their connections.
func (c *Conn) Receive(ctx context.Context) (relay.Frame, error) {
	if err := ctx.Err(); err != nil {
		return relay.Frame{}, fmt.Errorf("%w: %v", session.ErrConnClosed, err)
	}
	if err := c.extendReadDeadline(); err != nil {
		return relay.Frame{}, c.classify(err, "Receive", "set read deadline")
	}

	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		return relay.Frame{}, c.classify(err, "Receive", "read message")
	}

	switch messageType {
	case websocket.TextMessage:
		return relay.Frame{Kind: relay.FrameText, Text: string(data)}, nil
	case websocket.BinaryMessage:
		return relay.Frame{Kind: relay.FrameBinary, Data: data}, nil
	default:
		return relay.Frame{Kind: relay.FrameOther}, nil
	}
}

// Close sends a close frame with code and reason, then releases the socket.
// Only the first call has any effect.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(code, reason)
		werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) && !errors.Is(werr, net.ErrClosed) {
			err = errors.WrapTransient(werr, "Conn", "Close", fmt.Sprintf("send close frame %d", code))
		}
		_ = c.ws.Close()
	})
	return err
}

// ping writes a ping control frame. A connection that has not answered within
// the idle timeout is reported as stale.
func (c *Conn) ping(now time.Time) error {
	if c.closed.Load() {
		return session.ErrConnClosed
	}
	if c.idleTimeout > 0 && now.Sub(time.Unix(0, c.lastPong.Load())) > c.idleTimeout {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Conn", "ping", "await pong")
	}
	err := c.ws.WriteControl(websocket.PingMessage, nil, now.Add(c.writeTimeout))
	return c.classify(err, "ping", "write ping")
}

func (c *Conn) extendReadDeadline() error {
	if c.idleTimeout <= 0 {
		return nil
	}
	return c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

// classify maps peer closure to session.ErrConnClosed so the relay treats it
// as normal termination. Everything else is a transport fault.
func (c *Conn) classify(err error, method, action string) error {
	if err == nil {
		return nil
	}
	if isClosure(err) || c.closed.Load() {
		return fmt.Errorf("%w: %v", session.ErrConnClosed, err)
	}
	return errors.WrapTransient(err, "Conn", method, action)
}

func isClosure(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
