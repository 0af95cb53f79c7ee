package relay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/session"
)

// IngestMode selects how a producer connection is registered and how its
// binary frames are handled.
type IngestMode int

const (
	// ModeDefault registers as a producer of its session and ignores binary
	// frames.
	ModeDefault IngestMode = iota
	// ModeRefined registers as a consumer of the output session and echoes
	// binary frames back to the sender.
	ModeRefined
)

// String returns the mode name.
func (m IngestMode) String() string {
	if m == ModeRefined {
		return "refined"
	}
	return "default"
}

// Ingestor is the state machine for one producer connection:
// ACCEPTING -> STREAMING -> FINALIZING -> CLOSED.
type Ingestor struct {
	conn      Conn
	session   string
	mode      IngestMode
	registry  *session.Registry
	finalizer *Finalizer
	logger    *slog.Logger
	metrics   *Metrics

	state  atomic.Int32
	frames []string
}

// NewIngestor creates an ingestor for a producer connection whose handshake
// has completed.
func NewIngestor(conn Conn, sessionID string, mode IngestMode, registry *session.Registry,
	finalizer *Finalizer, logger *slog.Logger, metrics *Metrics) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		conn:      conn,
		session:   sessionID,
		mode:      mode,
		registry:  registry,
		finalizer: finalizer,
		logger:    logger.With("session", sessionID, "conn_id", conn.ID(), "mode", mode.String()),
		metrics:   metrics,
	}
}

// State returns the current lifecycle state.
func (in *Ingestor) State() State {
	return State(in.state.Load())
}

func (in *Ingestor) setState(s State) {
	in.state.Store(int32(s))
}

// Run drives the connection to CLOSED. It returns once the stream has been
// finalized and the connection unregistered; persistence may still be
// running.
func (in *Ingestor) Run(ctx context.Context) {
	in.register()
	in.setState(StateStreaming)
	in.logger.Info("producer connected")

	in.stream(ctx)

	in.setState(StateFinalizing)
	// Finalization outlives a cancelled connection context.
	in.finalizer.Finalize(context.WithoutCancel(ctx), in.session, in.frames)
	in.frames = nil
	in.unregister()

	if err := in.conn.Close(session.CloseNormal, ""); err != nil {
		in.logger.Debug("close after finalize", "error", err)
	}
	in.setState(StateClosed)
}

func (in *Ingestor) register() {
	if in.mode == ModeRefined {
		in.registry.ConnectConsumer(in.session, in.conn)
		return
	}
	in.registry.ConnectProducer(in.session, in.conn)
}

func (in *Ingestor) unregister() {
	if in.mode == ModeRefined {
		in.registry.DisconnectConsumer(in.session, in.conn)
		return
	}
	in.registry.DisconnectProducer(in.session, in.conn)
}

func (in *Ingestor) stream(ctx context.Context) {
	for {
		frame, err := in.conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, session.ErrConnClosed) {
				in.logger.Info("producer disconnected", "frames", len(in.frames))
			} else {
				in.logger.Warn("producer connection fault, finalizing", "frames", len(in.frames), "error", err)
			}
			return
		}

		in.metrics.frameReceived(frame.Kind)

		switch frame.Kind {
		case FrameText:
			in.frames = append(in.frames, frame.Text)
			in.registry.Broadcast(ctx, in.session, session.Text(frame.Text))
		case FrameBinary:
			in.handleBinary(ctx, frame.Data)
		default:
			// Control or malformed frame.
		}
	}
}

func (in *Ingestor) handleBinary(ctx context.Context, data []byte) {
	if in.mode != ModeRefined {
		in.logger.Debug("side-channel binary frame ignored", "bytes", len(data))
		return
	}
	if err := in.conn.SendBinary(ctx, data); err != nil {
		in.logger.Warn("binary echo failed", "bytes", len(data), "error", err)
	}
}
