package relay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/session"
)

// ConsumerRelay holds a consumer registration open for the life of its
// connection: ACCEPTING -> IDLE -> CLOSED. Anything the consumer sends is
// read only to notice closure and then discarded.
type ConsumerRelay struct {
	conn     Conn
	session  string
	registry *session.Registry
	logger   *slog.Logger

	state atomic.Int32
}

// NewConsumerRelay creates a relay for a consumer connection whose handshake
// has completed.
func NewConsumerRelay(conn Conn, sessionID string, registry *session.Registry, logger *slog.Logger) *ConsumerRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerRelay{
		conn:     conn,
		session:  sessionID,
		registry: registry,
		logger:   logger.With("session", sessionID, "conn_id", conn.ID()),
	}
}

// State returns the current lifecycle state.
func (c *ConsumerRelay) State() State {
	return State(c.state.Load())
}

// Run registers the consumer and blocks until its connection ends.
func (c *ConsumerRelay) Run(ctx context.Context) {
	c.registry.ConnectConsumer(c.session, c.conn)
	c.state.Store(int32(StateIdle))
	c.logger.Info("consumer connected")

	for {
		if _, err := c.conn.Receive(ctx); err != nil {
			if errors.Is(err, session.ErrConnClosed) {
				c.logger.Info("consumer disconnected")
			} else {
				c.logger.Warn("consumer connection fault", "error", err)
			}
			break
		}
	}

	c.registry.DisconnectConsumer(c.session, c.conn)
	if err := c.conn.Close(session.CloseNormal, ""); err != nil {
		c.logger.Debug("close after disconnect", "error", err)
	}
	c.state.Store(int32(StateClosed))
}
