package channel

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/muzaparoff/shuttlx-sub002/internal/protocol"
)

const (
	envelopeKindHeader = "envelope_kind"
	envelopeKindNotify = "notify"
	envelopeKindReply  = "reply"
)

// KafkaReader exposes the minimal kafka.Reader interface needed by the relay.
type KafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaWriter exposes the minimal kafka.Writer interface needed by the relay.
type KafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaOption configures optional behaviour for the KafkaChannel.
type KafkaOption func(*KafkaChannel)

// WithKafkaLogger overrides the logger used to report relay errors.
func WithKafkaLogger(logger *log.Logger) KafkaOption {
	return func(c *KafkaChannel) {
		c.logger = logger
	}
}

// KafkaChannel implements Channel over a relay broker: each device consumes
// its own inbox topic and writes to the peer's. It lets the phone and wrist
// devices reconcile through a household relay when no direct link exists.
// Reachability tracks the outcome of the most recent write.
type KafkaChannel struct {
	writer KafkaWriter
	reader KafkaReader
	logger *log.Logger
	events chan Event

	mu        sync.Mutex
	activated bool
	reachable bool
	pending   map[string]ReplyFunc
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewKafkaChannel builds a relay channel for the given broker addresses.
// inboxTopic is this device's topic, outboxTopic the peer's.
func NewKafkaChannel(brokers []string, inboxTopic, outboxTopic, groupID string, opts ...KafkaOption) *KafkaChannel {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        outboxTopic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   inboxTopic,
		GroupID: groupID,
	})
	return newKafkaChannel(writer, reader, opts...)
}

func newKafkaChannel(writer KafkaWriter, reader KafkaReader, opts ...KafkaOption) *KafkaChannel {
	c := &KafkaChannel{
		writer:  writer,
		reader:  reader,
		logger:  log.New(log.Writer(), "[relay] ", log.LstdFlags|log.Lshortfile),
		events:  make(chan Event, 256),
		pending: make(map[string]ReplyFunc),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start activates the channel and launches the inbox read loop.
func (c *KafkaChannel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.activated = true
	c.reachable = true
	c.mu.Unlock()

	c.emit(Event{Kind: EventActivationChanged, Activated: true})
	go c.readLoop(ctx)
}

// Activated implements Channel.
func (c *KafkaChannel) Activated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activated
}

// Reachable implements Channel.
func (c *KafkaChannel) Reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

// Events implements Channel.
func (c *KafkaChannel) Events() <-chan Event {
	return c.events
}

// Send implements Channel. The reply is correlated by request ID; the caller
// owns the reply timeout.
func (c *KafkaChannel) Send(env protocol.Envelope, onReply ReplyFunc, onError ErrorFunc) {
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}

	c.mu.Lock()
	if c.closed || !c.activated {
		c.mu.Unlock()
		if onError != nil {
			go onError(ErrNotActivated)
		}
		return
	}
	if onReply != nil {
		c.pending[env.RequestID] = onReply
	}
	c.mu.Unlock()

	go func() {
		if err := c.write(env, envelopeKindNotify); err != nil {
			c.mu.Lock()
			delete(c.pending, env.RequestID)
			c.mu.Unlock()
			if onError != nil {
				onError(err)
			}
		}
	}()
}

// BackgroundTransfer implements Channel. The write is retried with capped
// backoff until the broker accepts it or the channel closes, so delivery does
// not depend on the relay being reachable right now.
func (c *KafkaChannel) BackgroundTransfer(env protocol.Envelope) string {
	id := uuid.NewString()
	go func() {
		backoff := time.Second
		for {
			err := c.write(env, envelopeKindNotify)
			if err == nil {
				c.emit(Event{Kind: EventTransferCompleted, TransferID: id})
				return
			}
			c.logger.Printf("background transfer %s deferred: %v", id, err)

			select {
			case <-c.done:
				c.emit(Event{Kind: EventTransferCompleted, TransferID: id, TransferErr: err})
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}()
	return id
}

// Close implements Channel.
func (c *KafkaChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(c.done)

	err := errors.Join(c.writer.Close(), c.reader.Close())
	close(c.events)
	return err
}

func (c *KafkaChannel) write(env protocol.Envelope, kind string) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	writeErr := c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Action),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: envelopeKindHeader, Value: []byte(kind)},
		},
	})
	c.setReachable(writeErr == nil)
	return writeErr
}

func (c *KafkaChannel) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Printf("fetch error: %v", err)
			continue
		}

		env, decodeErr := protocol.DecodeEnvelope(msg.Value)
		if decodeErr != nil {
			c.logger.Printf("decode error (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, decodeErr)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
				c.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		c.dispatch(env, headerValue(msg, envelopeKindHeader))

		if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
			c.logger.Printf("commit error: %v", commitErr)
		}
	}
}

func (c *KafkaChannel) dispatch(env protocol.Envelope, kind string) {
	if kind == envelopeKindReply {
		c.mu.Lock()
		onReply, ok := c.pending[env.RequestID]
		if ok {
			delete(c.pending, env.RequestID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Printf("dropping reply for unknown request %q", env.RequestID)
			return
		}
		onReply(env)
		return
	}

	requestID := env.RequestID
	c.emit(Event{
		Kind:    EventMessageReceived,
		Message: &env,
		Reply: func(response protocol.Envelope) error {
			response.RequestID = requestID
			return c.write(response, envelopeKindReply)
		},
	})
}

func (c *KafkaChannel) setReachable(reachable bool) {
	c.mu.Lock()
	changed := c.reachable != reachable && !c.closed
	c.reachable = reachable
	c.mu.Unlock()
	if changed {
		c.emit(Event{Kind: EventReachabilityChanged, Reachable: reachable})
	}
}

func (c *KafkaChannel) emit(ev Event) {
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

func headerValue(msg kafka.Message, key string) string {
	for _, header := range msg.Headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	return ""
}
