// Package channel defines the connectivity contract between paired devices
// and its concrete adapters. The underlying transports deliver callbacks on
// arbitrary goroutines; adapters convert them into a typed event stream the
// sync engine drains from its own loop.
package channel

import (
	"errors"

	"github.com/muzaparoff/shuttlx-sub002/internal/protocol"
)

var (
	// ErrNotActivated means the channel session has not been established.
	ErrNotActivated = errors.New("channel not activated")
	// ErrNotReachable means the peer is not currently reachable for live sends.
	ErrNotReachable = errors.New("peer not reachable")
	// ErrClosed means the channel has been shut down.
	ErrClosed = errors.New("channel closed")
)

// EventKind discriminates the Event union.
type EventKind int

const (
	// EventActivationChanged reports a change of the session state.
	EventActivationChanged EventKind = iota
	// EventReachabilityChanged reports a change of live reachability.
	EventReachabilityChanged
	// EventMessageReceived carries an inbound envelope from the peer.
	EventMessageReceived
	// EventTransferCompleted reports the outcome of a background transfer.
	EventTransferCompleted
)

// Event is one transport callback, normalized. Exactly the fields relevant
// for its Kind are populated.
type Event struct {
	Kind EventKind

	Activated bool
	Reachable bool

	// Message and Reply are set for EventMessageReceived. Reply is nil when
	// the sender did not request a response.
	Message *protocol.Envelope
	Reply   func(protocol.Envelope) error

	// TransferID and TransferErr are set for EventTransferCompleted.
	TransferID  string
	TransferErr error
}

// ReplyFunc receives the peer's reply to a live send.
type ReplyFunc func(protocol.Envelope)

// ErrorFunc receives a send failure.
type ErrorFunc func(error)

// Channel is the unreliable bidirectional message primitive between the two
// devices. Implementations must never assume ordering between Send and
// BackgroundTransfer deliveries.
type Channel interface {
	// Activated reports whether the channel session is established.
	Activated() bool

	// Reachable reports whether the peer is currently reachable for live sends.
	Reachable() bool

	// Send delivers an envelope to the peer. Exactly one of onReply or
	// onError fires, on an arbitrary goroutine. A reply timeout is the
	// caller's concern.
	Send(env protocol.Envelope, onReply ReplyFunc, onError ErrorFunc)

	// BackgroundTransfer queues an envelope for delivery that does not
	// require the peer to be reachable right now. Returns a transfer ID that
	// a later EventTransferCompleted references.
	BackgroundTransfer(env protocol.Envelope) string

	// Events returns the stream of normalized transport events.
	Events() <-chan Event

	// Close tears the channel down and closes the event stream.
	Close() error
}
