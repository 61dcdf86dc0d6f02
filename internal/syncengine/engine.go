// Package syncengine reconciles the shared program catalog and session
// history between the two paired devices over an unreliable channel, with the
// durable store as the always-written fallback.
package syncengine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/muzaparoff/shuttlx-sub002/internal/channel"
	"github.com/muzaparoff/shuttlx-sub002/internal/domain"
	"github.com/muzaparoff/shuttlx-sub002/internal/observability"
	"github.com/muzaparoff/shuttlx-sub002/internal/persistence"
	"github.com/muzaparoff/shuttlx-sub002/internal/protocol"
)

// ErrStopped is returned by blocking operations after the engine shut down.
var ErrStopped = errors.New("sync engine stopped")

var errReplyTimeout = errors.New("reply timeout")

// Store is the durable document store the engine reconciles into.
type Store interface {
	LoadPrograms() ([]domain.Program, error)
	LoadSessions() ([]domain.Session, error)
	SavePrograms([]domain.Program) persistence.WriteReport
	SaveSessions([]domain.Session) persistence.WriteReport
}

// Archiver optionally mirrors accepted sessions into long-term storage.
type Archiver interface {
	SaveSession(ctx context.Context, session domain.Session) error
}

// Timings groups the engine's timer constants so tests can compress them.
type Timings struct {
	// Watchdog reclaims a stuck in-flight attempt when no reply or error
	// callback ever arrives. It doubles as the pull reply timeout.
	Watchdog time.Duration
	// SweepInterval drives the background health/refresh sweep.
	SweepInterval time.Duration
	// StaleAfter is the last-sync age that counts as stale.
	StaleAfter time.Duration
}

// DefaultTimings returns the production constants.
func DefaultTimings() Timings {
	return Timings{
		Watchdog:      10 * time.Second,
		SweepInterval: 15 * time.Second,
		StaleAfter:    DefaultStaleAfter,
	}
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithLogger overrides the logger used to report sync events.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTimings overrides the timer constants.
func WithTimings(t Timings) Option {
	return func(e *Engine) {
		e.timings = t
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMaxAttempts overrides the per-cycle retry budget.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		e.maxAttempts = n
	}
}

// WithArchiver mirrors accepted sessions into the given archive, best-effort.
func WithArchiver(archiver Archiver) Option {
	return func(e *Engine) {
		e.archiver = archiver
	}
}

type queuedSession struct {
	session    domain.Session
	transferID string
}

// Engine owns all sync state on a single goroutine. Public methods marshal
// onto that goroutine and never touch the network inline: local persistence
// is synchronous, network outcomes arrive later through channel callbacks.
type Engine struct {
	store       Store
	channel     channel.Channel
	archiver    Archiver
	logger      *log.Logger
	timings     Timings
	maxAttempts int
	now         func() time.Time

	cmds    chan func()
	stopped chan struct{}

	// Everything below is owned by the run loop.
	catalog         []domain.Program
	history         []domain.Session
	queue           []queuedSession
	scheduler       *RetryScheduler
	scorer          *HealthScorer
	activated       bool
	reachable       bool
	lastSync        time.Time
	failures        int
	health          float64
	inFlightRequest string
	watchGen        int
}

// New constructs an Engine. Call Start before using it.
func New(store Store, ch channel.Channel, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		channel: ch,
		logger:  log.New(log.Writer(), "[sync] ", log.LstdFlags),
		timings: DefaultTimings(),
		now:     time.Now,
		cmds:    make(chan func(), 128),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scheduler = NewRetryScheduler(e.maxAttempts)
	e.scorer = NewHealthScorer(e.timings.StaleAfter)
	return e
}

// Start loads local state and launches the actor goroutine. The catalog
// falls back to the built-in defaults, the session history to empty; neither
// failure is surfaced as fatal.
func (e *Engine) Start(ctx context.Context) {
	catalog, err := e.store.LoadPrograms()
	if err != nil {
		e.logger.Printf("load programs: %v; seeding built-in defaults", err)
		catalog = domain.DefaultPrograms()
		e.recordWriteReport(e.store.SavePrograms(catalog))
	}
	history, err := e.store.LoadSessions()
	if err != nil {
		e.logger.Printf("load sessions: %v; starting with empty history", err)
		history = nil
	}

	e.catalog = catalog
	e.history = history
	e.activated = e.channel.Activated()
	e.reachable = e.channel.Reachable()
	e.recomputeHealth()

	go e.run(ctx)
}

// Wait blocks until the engine's run loop has exited.
func (e *Engine) Wait() {
	<-e.stopped
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)

	sweep := time.NewTicker(e.timings.SweepInterval)
	defer sweep.Stop()

	events := e.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmds:
			cmd()
		case ev, ok := <-events:
			if !ok {
				// Channel torn down; keep serving local operations.
				events = nil
				continue
			}
			e.handleEvent(ev)
		case <-sweep.C:
			e.sweep()
		}
	}
}

// post marshals fn onto the actor goroutine. Dropped silently once stopped.
func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.stopped:
	}
}

// LoadCatalog returns the current catalog view. It never blocks on the
// network and always yields some catalog; the built-in defaults are the last
// resort.
func (e *Engine) LoadCatalog() []domain.Program {
	result := make(chan []domain.Program, 1)
	e.post(func() {
		out := make([]domain.Program, len(e.catalog))
		copy(out, e.catalog)
		result <- out
	})
	select {
	case catalog := <-result:
		return catalog
	case <-e.stopped:
		return domain.DefaultPrograms()
	}
}

// Sessions returns a snapshot of the local session history.
func (e *Engine) Sessions() []domain.Session {
	result := make(chan []domain.Session, 1)
	e.post(func() {
		out := make([]domain.Session, len(e.history))
		copy(out, e.history)
		result <- out
	})
	select {
	case history := <-result:
		return history
	case <-e.stopped:
		return nil
	}
}

// Status returns a read-only snapshot for observers.
func (e *Engine) Status() Status {
	result := make(chan Status, 1)
	e.post(func() {
		result <- Status{
			LastSync:        e.lastSync,
			PendingSessions: len(e.queue),
			Health:          e.health,
			InFlight:        e.scheduler.State() == StateInFlight,
		}
	})
	select {
	case status := <-result:
		return status
	case <-e.stopped:
		return Status{}
	}
}

// RequestRefresh asks the peer for its catalog. A no-op while another
// attempt is in flight; returns immediately, the outcome arrives via
// callbacks.
func (e *Engine) RequestRefresh() {
	e.post(func() { e.requestRefresh(false) })
}

// EnqueueSession persists the session locally and then hands it to the
// channel: a live send when the peer is reachable, otherwise the pending
// queue plus a background transfer. It returns once local persistence is
// done; the returned error is non-nil only when both store locations
// rejected the write, and even then the session rides along in memory.
func (e *Engine) EnqueueSession(session domain.Session) error {
	result := make(chan error, 1)
	e.post(func() { result <- e.enqueueSession(session) })
	select {
	case err := <-result:
		return err
	case <-e.stopped:
		return ErrStopped
	}
}

func (e *Engine) enqueueSession(session domain.Session) error {
	// Durability first: the session must survive total connectivity loss
	// before any send is attempted.
	merged, added := domain.MergeSessions(e.history, session)
	if added == 0 {
		observability.RecordDuplicateSession()
	}
	e.history = merged

	report := e.store.SaveSessions(e.history)
	e.recordWriteReport(report)
	if err := report.Err(); err != nil {
		e.logger.Printf("enqueue %s: both store writes failed: %v", session.ID, err)
	}

	e.archive(session)
	e.transmitSession(session)
	return report.Err()
}

func (e *Engine) transmitSession(session domain.Session) {
	if e.activated && e.reachable {
		env, err := protocol.NewEnvelope(protocol.ActionSaveSession, e.now(), protocol.SessionPush{Session: session})
		if err != nil {
			e.logger.Printf("encode session %s: %v", session.ID, err)
			return
		}
		e.channel.Send(env,
			func(protocol.Envelope) {
				e.post(func() { e.markSyncSuccess() })
			},
			func(sendErr error) {
				e.post(func() {
					e.logger.Printf("live send of %s failed: %v; queuing", session.ID, sendErr)
					e.queueSession(session)
				})
			},
		)
		return
	}
	e.queueSession(session)
}

// queueSession appends to the pending queue and issues a background transfer
// that does not require the peer to be reachable right now.
func (e *Engine) queueSession(session domain.Session) {
	for i := range e.queue {
		if e.queue[i].session.ID == session.ID {
			return
		}
	}

	env, err := protocol.NewEnvelope(protocol.ActionSaveSession, e.now(), protocol.SessionPush{Session: session})
	if err != nil {
		e.logger.Printf("encode session %s: %v", session.ID, err)
		return
	}
	transferID := e.channel.BackgroundTransfer(env)
	e.queue = append(e.queue, queuedSession{session: session, transferID: transferID})
	observability.RecordQueueDepth(len(e.queue))
}

func (e *Engine) requestRefresh(retry bool) {
	if retry {
		if !e.scheduler.Retry() {
			return
		}
	} else if !e.scheduler.Begin() {
		e.logger.Printf("refresh skipped: sync already in flight")
		return
	}

	if !e.activated || !e.reachable {
		// A dark channel is a known steady state; defer, don't penalize.
		e.scheduler.Abort()
		return
	}

	env, err := protocol.NewEnvelope(protocol.ActionRequestPrograms, e.now(), nil)
	if err != nil {
		e.scheduler.Abort()
		return
	}
	requestID := uuid.NewString()
	env.RequestID = requestID
	e.inFlightRequest = requestID
	e.armWatchdog(requestID)

	e.channel.Send(env,
		func(reply protocol.Envelope) {
			e.post(func() { e.handlePullReply(requestID, reply) })
		},
		func(sendErr error) {
			e.post(func() { e.handleSyncFailure(requestID, sendErr) })
		},
	)
}

// armWatchdog schedules the forced reclaim of the in-flight slot. The
// generation counter disarms stale watchdogs after a normal resolution.
func (e *Engine) armWatchdog(requestID string) {
	e.watchGen++
	gen := e.watchGen
	time.AfterFunc(e.timings.Watchdog, func() {
		e.post(func() {
			if gen != e.watchGen || e.inFlightRequest != requestID {
				return
			}
			e.handleSyncFailure(requestID, errReplyTimeout)
		})
	})
}

func (e *Engine) handlePullReply(requestID string, reply protocol.Envelope) {
	if e.inFlightRequest != requestID {
		// Stale reply; the watchdog already reclaimed this attempt.
		return
	}
	e.inFlightRequest = ""
	e.watchGen++
	e.scheduler.Succeed()
	e.applyCatalogSnapshot(reply)
}

func (e *Engine) handleSyncFailure(requestID string, cause error) {
	if e.inFlightRequest != requestID {
		return
	}
	e.inFlightRequest = ""
	e.watchGen++
	e.failures++
	observability.RecordSyncFailure()

	delay, giveUp := e.scheduler.Fail()
	e.recomputeHealth()

	if giveUp {
		e.logger.Printf("refresh failed (%v); attempt budget exhausted, waiting for next trigger", cause)
		return
	}
	e.logger.Printf("refresh failed (%v); retrying in %s", cause, delay)
	time.AfterFunc(delay, func() {
		e.post(func() { e.requestRefresh(true) })
	})
}

func (e *Engine) handleEvent(ev channel.Event) {
	switch ev.Kind {
	case channel.EventActivationChanged:
		e.activated = ev.Activated
		e.recomputeHealth()
	case channel.EventReachabilityChanged:
		e.reachable = ev.Reachable
		e.recomputeHealth()
		if e.reachable {
			e.drainQueue()
		}
	case channel.EventMessageReceived:
		if ev.Message != nil {
			e.handlePeerMessage(*ev.Message, ev.Reply)
		}
	case channel.EventTransferCompleted:
		e.handleTransferCompleted(ev)
	}
}

func (e *Engine) handlePeerMessage(env protocol.Envelope, reply func(protocol.Envelope) error) {
	switch env.Action {
	case protocol.ActionRequestPrograms:
		if reply == nil {
			return
		}
		response, err := protocol.NewEnvelope(protocol.ActionSyncPrograms, e.now(),
			protocol.NewCatalogSnapshot(e.catalog, domain.LatestModification(e.catalog)))
		if err != nil {
			e.logger.Printf("encode catalog reply: %v", err)
			return
		}
		response.RequestID = env.RequestID
		if err := reply(response); err != nil {
			e.logger.Printf("catalog reply: %v", err)
		}
		e.markSyncSuccess()

	case protocol.ActionProgramsUpdated, protocol.ActionSyncPrograms:
		e.applyCatalogSnapshot(env)

	case protocol.ActionSaveSession:
		e.acceptSessionPush(env, reply)

	case protocol.ActionPing:
		// A probe refreshes the health picture; it never changes sync state.
		if reply != nil {
			ack, err := protocol.NewEnvelope(protocol.ActionPing, e.now(), protocol.NewPingAck(e.now()))
			if err == nil {
				ack.RequestID = env.RequestID
				if err := reply(ack); err != nil {
					e.logger.Printf("ping ack: %v", err)
				}
			}
		}
		e.recomputeHealth()

	default:
		e.logger.Printf("ignoring unknown action %q from peer", env.Action)
	}
}

func (e *Engine) applyCatalogSnapshot(env protocol.Envelope) {
	var snapshot protocol.CatalogSnapshot
	if err := env.DecodePayload(&snapshot); err != nil {
		observability.RecordDecodeError()
		e.logger.Printf("catalog snapshot: %v", err)
		return
	}

	// A delayed or out-of-order snapshot must not clobber newer local edits.
	if latest := domain.LatestModification(e.catalog); !snapshot.Timestamp.IsZero() && snapshot.Timestamp.Before(latest) {
		e.logger.Printf("catalog snapshot from %s predates local edits from %s; keeping local catalog",
			snapshot.Timestamp.Format(time.RFC3339), latest.Format(time.RFC3339))
		e.markSyncSuccess()
		return
	}

	e.catalog = snapshot.Programs
	e.recordWriteReport(e.store.SavePrograms(e.catalog))
	e.markSyncSuccess()
}

func (e *Engine) acceptSessionPush(env protocol.Envelope, reply func(protocol.Envelope) error) {
	var push protocol.SessionPush
	if err := env.DecodePayload(&push); err != nil {
		observability.RecordDecodeError()
		e.logger.Printf("session push: %v", err)
		return
	}

	merged, added := domain.MergeSessions(e.history, push.Session)
	duplicate := added == 0
	if duplicate {
		observability.RecordDuplicateSession()
	} else {
		e.history = merged
		e.recordWriteReport(e.store.SaveSessions(e.history))
		e.archive(push.Session)
	}
	e.markSyncSuccess()

	if reply != nil {
		ack, err := protocol.NewEnvelope(protocol.ActionSaveSession, e.now(),
			protocol.SessionAck{SessionID: push.Session.ID, Duplicate: duplicate})
		if err == nil {
			ack.RequestID = env.RequestID
			if err := reply(ack); err != nil {
				e.logger.Printf("session ack: %v", err)
			}
		}
	}
}

func (e *Engine) handleTransferCompleted(ev channel.Event) {
	if ev.TransferErr != nil {
		e.logger.Printf("background transfer %s failed: %v", ev.TransferID, ev.TransferErr)
		return
	}
	for i := range e.queue {
		if e.queue[i].transferID == ev.TransferID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			observability.RecordQueueDepth(len(e.queue))
			e.markSyncSuccess()
			return
		}
	}
}

// drainQueue re-issues background transfers for everything still pending.
// Duplicates on the peer side collapse in its dedup merge.
func (e *Engine) drainQueue() {
	for i := range e.queue {
		env, err := protocol.NewEnvelope(protocol.ActionSaveSession, e.now(),
			protocol.SessionPush{Session: e.queue[i].session})
		if err != nil {
			continue
		}
		e.queue[i].transferID = e.channel.BackgroundTransfer(env)
	}
}

func (e *Engine) sweep() {
	e.recomputeHealth()
	if !e.activated || !e.reachable {
		return
	}
	if len(e.queue) > 0 {
		e.drainQueue()
	}
	if e.scheduler.State() == StateIdle &&
		(e.lastSync.IsZero() || e.now().Sub(e.lastSync) > e.timings.StaleAfter) {
		e.requestRefresh(false)
	}
}

func (e *Engine) markSyncSuccess() {
	e.lastSync = e.now()
	e.failures = 0
	observability.RecordSyncSuccess(e.lastSync)
	e.recomputeHealth()
}

func (e *Engine) recomputeHealth() {
	e.health = e.scorer.Score(e.now(), HealthInputs{
		Activated:           e.activated,
		Reachable:           e.reachable,
		ConsecutiveFailures: e.failures,
		LastSuccess:         e.lastSync,
	})
	observability.RecordHealthScore(e.health)
}

func (e *Engine) recordWriteReport(report persistence.WriteReport) {
	if report.PrimaryErr != nil {
		observability.RecordStoreWriteFailure("primary")
	}
	if report.FallbackErr != nil {
		observability.RecordStoreWriteFailure("fallback")
	}
}

func (e *Engine) archive(session domain.Session) {
	if e.archiver == nil {
		return
	}
	archiver := e.archiver
	logger := e.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := archiver.SaveSession(ctx, session); err != nil {
			logger.Printf("archive session %s: %v", session.ID, err)
		}
	}()
}
