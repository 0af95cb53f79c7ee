package relay

import (
	"context"

	"github.com/c360/plyrelay/session"
)

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	// FrameText carries a text payload.
	FrameText FrameKind = iota
	// FrameBinary carries a binary payload.
	FrameBinary
	// FrameOther is a control or malformed frame with no usable payload.
	FrameOther
)

// String returns the label used in logs and metrics.
func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "other"
	}
}

// Frame is one inbound message.
type Frame struct {
	Kind FrameKind
	Text string
	Data []byte
}

// Conn is a connection the relay can both read from and route to.
//
// Receive blocks for the next frame. It returns session.ErrConnClosed, or an
// error wrapping it, once the peer has closed the connection; any other error
// is an unexpected transport fault.
type Conn interface {
	session.Conn
	Receive(ctx context.Context) (Frame, error)
}

// State is the lifecycle position of a connection state machine.
type State int32

const (
	StateAccepting State = iota
	StateStreaming
	StateFinalizing
	StateIdle
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAccepting:
		return "ACCEPTING"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateIdle:
		return "IDLE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
