package channel

import (
	"sync"

	"github.com/google/uuid"

	"github.com/muzaparoff/shuttlx-sub002/internal/protocol"
)

// MemoryChannel is an in-process Channel linked to a peer MemoryChannel.
// It models the transport faults the engine has to tolerate: deactivation,
// unreachability, send failures, and background transfers that are parked
// until reachability returns. Used by tests and local development.
type MemoryChannel struct {
	mu        sync.Mutex
	peer      *MemoryChannel
	activated bool
	reachable bool
	closed    bool
	failNext  error
	parked    []parkedTransfer
	events    chan Event
}

type parkedTransfer struct {
	id  string
	env protocol.Envelope
}

// NewMemoryPair returns two linked channels, both activated and reachable.
func NewMemoryPair() (*MemoryChannel, *MemoryChannel) {
	a := newMemoryChannel()
	b := newMemoryChannel()
	a.peer = b
	b.peer = a
	return a, b
}

func newMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		activated: true,
		reachable: true,
		events:    make(chan Event, 256),
	}
}

// Activated implements Channel.
func (c *MemoryChannel) Activated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activated
}

// Reachable implements Channel.
func (c *MemoryChannel) Reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

// Events implements Channel.
func (c *MemoryChannel) Events() <-chan Event {
	return c.events
}

// Send implements Channel. Callbacks run on their own goroutine, matching
// real transports that call back from arbitrary threads.
func (c *MemoryChannel) Send(env protocol.Envelope, onReply ReplyFunc, onError ErrorFunc) {
	c.mu.Lock()
	fail := c.failNext
	c.failNext = nil
	switch {
	case c.closed:
		fail = ErrClosed
	case fail != nil:
	case !c.activated:
		fail = ErrNotActivated
	case !c.reachable:
		fail = ErrNotReachable
	}
	peer := c.peer
	c.mu.Unlock()

	if fail != nil {
		if onError != nil {
			go onError(fail)
		}
		return
	}

	reply := func(response protocol.Envelope) error {
		if onReply != nil {
			go onReply(response)
		}
		return nil
	}
	go peer.emit(Event{Kind: EventMessageReceived, Message: &env, Reply: reply})
}

// BackgroundTransfer implements Channel. Transfers issued while unreachable
// are parked and flushed when reachability returns.
func (c *MemoryChannel) BackgroundTransfer(env protocol.Envelope) string {
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return id
	}
	deliverable := c.activated && c.reachable
	if !deliverable {
		c.parked = append(c.parked, parkedTransfer{id: id, env: env})
		c.mu.Unlock()
		return id
	}
	peer := c.peer
	c.mu.Unlock()

	go c.completeTransfer(peer, id, env)
	return id
}

// SetActivated flips the session state and notifies the local observer.
func (c *MemoryChannel) SetActivated(activated bool) {
	c.mu.Lock()
	c.activated = activated
	c.mu.Unlock()
	c.emit(Event{Kind: EventActivationChanged, Activated: activated})
}

// SetReachable flips reachability, notifies the local observer, and flushes
// parked background transfers when the peer comes back.
func (c *MemoryChannel) SetReachable(reachable bool) {
	c.mu.Lock()
	c.reachable = reachable
	var flush []parkedTransfer
	var peer *MemoryChannel
	if reachable && c.activated {
		flush = c.parked
		c.parked = nil
		peer = c.peer
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventReachabilityChanged, Reachable: reachable})
	for _, transfer := range flush {
		go c.completeTransfer(peer, transfer.id, transfer.env)
	}
}

// InjectMessage simulates the transport re-delivering an envelope to this
// channel's observer, the way real transfer queues retry after a drop.
func (c *MemoryChannel) InjectMessage(env protocol.Envelope) {
	c.emit(Event{Kind: EventMessageReceived, Message: &env})
}

// FailNextSend makes the next Send report the given error.
func (c *MemoryChannel) FailNextSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// Close implements Channel.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}

func (c *MemoryChannel) completeTransfer(peer *MemoryChannel, id string, env protocol.Envelope) {
	peer.emit(Event{Kind: EventMessageReceived, Message: &env})
	c.emit(Event{Kind: EventTransferCompleted, TransferID: id})
}

// emit enqueues an event for the local observer. The channel is unreliable
// by contract, so an observer that stopped draining loses events rather than
// wedging the transport.
func (c *MemoryChannel) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}
