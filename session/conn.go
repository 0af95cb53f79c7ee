package session

import (
	"context"

	"github.com/c360/plyrelay/errors"
)

// Close codes used by the relay when it terminates a connection.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// ErrConnClosed is returned by a Conn once the peer or the relay has closed it.
var ErrConnClosed = errors.New("connection closed")

// Conn is the registry's view of a connection handle. The registry only routes
// payloads to it; whoever accepted the connection owns its lifetime.
type Conn interface {
	// ID returns an identifier stable for the lifetime of the connection.
	ID() string
	SendText(ctx context.Context, text string) error
	SendBinary(ctx context.Context, data []byte) error
	// Close sends a close frame with code and reason. Closing twice is harmless.
	Close(code int, reason string) error
}

// PayloadKind distinguishes text from binary payloads on the wire.
type PayloadKind int

const (
	// PayloadText is sent as a text message.
	PayloadText PayloadKind = iota
	// PayloadBinary is sent as a binary message.
	PayloadBinary
)

// String returns the label used in logs and metrics.
func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Payload is one broadcast message.
type Payload struct {
	Kind PayloadKind
	Text string
	Data []byte
}

// Text builds a text payload.
func Text(s string) Payload {
	return Payload{Kind: PayloadText, Text: s}
}

// Binary builds a binary payload. The slice is shared with every consumer and
// must not be modified after the broadcast starts.
func Binary(b []byte) Payload {
	return Payload{Kind: PayloadBinary, Data: b}
}

// Size returns the payload length in bytes.
func (p Payload) Size() int {
	if p.Kind == PayloadBinary {
		return len(p.Data)
	}
	return len(p.Text)
}

func (p Payload) sendTo(ctx context.Context, conn Conn) error {
	if p.Kind == PayloadBinary {
		return conn.SendBinary(ctx, p.Data)
	}
	return conn.SendText(ctx, p.Text)
}
