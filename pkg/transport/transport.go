package transport

import (
	"context"
	"time"

	"aprslink/pkg/packet"
)

// Kind identifies the transport behind a driver.
type Kind int

const (
	KindUnknown Kind = iota
	KindAPRSIS
	KindTCPKISS
	KindSerialKISS
	KindFake
)

func (k Kind) String() string {
	switch k {
	case KindAPRSIS:
		return "aprsis"
	case KindTCPKISS:
		return "tcpkiss"
	case KindSerialKISS:
		return "serialkiss"
	case KindFake:
		return "fake"
	default:
		return "unknown"
	}
}

// State is a driver's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStale
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStale:
		return "stale"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// DefaultStaleAfter is how long a connection may go without inbound activity
// before it is considered dead.
const DefaultStaleAfter = 2 * time.Minute

// DefaultPollTimeout bounds a single ReceiveOne call.
const DefaultPollTimeout = time.Second

// RawFrame is one unit read from the wire: a text line for APRS-IS, the
// unpacked AX.25 frame for KISS transports.
type RawFrame struct {
	Kind       Kind
	Data       []byte
	ReceivedAt time.Time
}

// LoginStatus is the outcome of the last connect attempt.
type LoginStatus struct {
	Success bool
	Message string
}

// Driver is implemented by every transport. Implementations must be safe for
// concurrent use: Send, Stats and IsAlive may run alongside the receive
// worker calling ReceiveOne.
type Driver interface {
	Kind() Kind
	State() State

	// Connect performs the transport handshake, retrying transient failures
	// per the driver's policy. Authentication failures are not retried.
	Connect(ctx context.Context) error

	// Send writes one packet. It fails with ErrNotConnected unless the
	// driver is Connected.
	Send(ctx context.Context, p *packet.Packet) error

	// ReceiveOne waits at most timeout for one frame. (nil, nil) means
	// nothing arrived.
	ReceiveOne(ctx context.Context, timeout time.Duration) (*RawFrame, error)

	// Decode turns a frame into a packet, or nil if it cannot be decoded.
	// Failures are logged, not returned.
	Decode(f *RawFrame) *packet.Packet

	// IsAlive is true iff Connected and the keepalive is fresh.
	IsAlive() bool

	SetFilter(filter string)
	LoginStatus() LoginStatus
	Keepalive() time.Time

	// Close releases the handle; a second call is a no-op.
	Close() error

	Stats() Stats
}
