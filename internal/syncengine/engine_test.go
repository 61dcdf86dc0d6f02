package syncengine

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/muzaparoff/shuttlx-sub002/internal/channel"
	"github.com/muzaparoff/shuttlx-sub002/internal/domain"
	"github.com/muzaparoff/shuttlx-sub002/internal/persistence"
	"github.com/muzaparoff/shuttlx-sub002/internal/protocol"
)

const (
	eventuallyWait = 2 * time.Second
	eventuallyTick = 5 * time.Millisecond
)

func TestStartSeedsDefaultCatalog(t *testing.T) {
	store := newMemStore()
	ch, _ := channel.NewMemoryPair()
	engine := startEngine(t, store, ch)

	catalog := engine.LoadCatalog()
	require.Len(t, catalog, 2)
	require.Equal(t, "Beginner Run/Walk", catalog[0].Name)
	require.Len(t, store.savedPrograms(), 2, "seeded defaults must be written back to the store")
}

func TestEnqueueSessionPersistsBeforeTransport(t *testing.T) {
	store := newMemStore()
	chA, _ := channel.NewMemoryPair()
	chA.SetReachable(false)
	engine := startEngine(t, store, chA)

	session := testSession("s-offline")
	require.NoError(t, engine.EnqueueSession(session))

	// The session is durable and queued even though nothing was delivered.
	saved := store.savedSessions()
	require.Len(t, saved, 1)
	require.Equal(t, "s-offline", saved[0].ID)
	require.Eventually(t, func() bool {
		return engine.Status().PendingSessions == 1
	}, eventuallyWait, eventuallyTick)
}

func TestEnqueueSessionLiveDelivery(t *testing.T) {
	chA, chB := channel.NewMemoryPair()
	engineA := startEngine(t, newMemStore(), chA)
	engineB := startEngine(t, newMemStore(), chB)

	require.NoError(t, engineA.EnqueueSession(testSession("s-live")))

	require.Eventually(t, func() bool {
		history := engineB.Sessions()
		return len(history) == 1 && history[0].ID == "s-live"
	}, eventuallyWait, eventuallyTick)
	require.Eventually(t, func() bool {
		return !engineA.Status().LastSync.IsZero()
	}, eventuallyWait, eventuallyTick, "the ack must count as a successful sync")
}

func TestQueuedSessionsDeliverWhenReachabilityReturns(t *testing.T) {
	chA, chB := channel.NewMemoryPair()
	chA.SetReachable(false)
	engineA := startEngine(t, newMemStore(), chA)
	engineB := startEngine(t, newMemStore(), chB)

	require.NoError(t, engineA.EnqueueSession(testSession("s-parked")))
	require.Eventually(t, func() bool {
		return engineA.Status().PendingSessions == 1
	}, eventuallyWait, eventuallyTick)

	chA.SetReachable(true)

	require.Eventually(t, func() bool {
		history := engineB.Sessions()
		return len(history) == 1 && history[0].ID == "s-parked"
	}, eventuallyWait, eventuallyTick)
	require.Eventually(t, func() bool {
		return engineA.Status().PendingSessions == 0
	}, eventuallyWait, eventuallyTick, "completed transfer must leave the pending queue")
}

func TestDuplicateSessionPushIsIgnored(t *testing.T) {
	_, chB := channel.NewMemoryPair()
	engineB := startEngine(t, newMemStore(), chB)

	env, err := protocol.NewEnvelope(protocol.ActionSaveSession, time.Now(),
		protocol.SessionPush{Session: testSession("s-dup")})
	require.NoError(t, err)

	// The transfer queue of a real transport may re-deliver after a drop.
	chB.InjectMessage(env)
	chB.InjectMessage(env)

	require.Eventually(t, func() bool {
		return len(engineB.Sessions()) == 1
	}, eventuallyWait, eventuallyTick)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, engineB.Sessions(), 1, "replayed push must not duplicate the session")
}

func TestRefreshPullsPeerCatalog(t *testing.T) {
	peerProgram := domain.NewProgram("Wrist Tempo", []domain.Interval{
		{Phase: domain.PhaseWork, DurationSec: 45, Intensity: "hard"},
	}, 165)
	peerProgram.ModifiedAt = time.Now().Add(time.Hour)

	storeB := newMemStore()
	storeB.seedPrograms(peerProgram)

	chA, chB := channel.NewMemoryPair()
	engineA := startEngine(t, newMemStore(), chA)
	startEngine(t, storeB, chB)

	engineA.RequestRefresh()

	require.Eventually(t, func() bool {
		catalog := engineA.LoadCatalog()
		return len(catalog) == 1 && catalog[0].Name == "Wrist Tempo"
	}, eventuallyWait, eventuallyTick)
}

func TestStaleCatalogSnapshotKeepsLocalEdits(t *testing.T) {
	chA, _ := channel.NewMemoryPair()
	engine := startEngine(t, newMemStore(), chA)

	stale := protocol.NewCatalogSnapshot([]domain.Program{
		domain.NewProgram("Ancient Plan", nil, 120),
	}, time.Now().Add(-24*time.Hour))
	env, err := protocol.NewEnvelope(protocol.ActionProgramsUpdated, time.Now(), stale)
	require.NoError(t, err)
	chA.InjectMessage(env)

	// A skipped stale snapshot still counts as contact with the peer.
	require.Eventually(t, func() bool {
		return !engine.Status().LastSync.IsZero()
	}, eventuallyWait, eventuallyTick)

	catalog := engine.LoadCatalog()
	require.Len(t, catalog, 2)
	require.Equal(t, "Beginner Run/Walk", catalog[0].Name)
}

func TestFreshCatalogSnapshotReplacesLocal(t *testing.T) {
	store := newMemStore()
	chA, _ := channel.NewMemoryPair()
	engine := startEngine(t, store, chA)

	newer := domain.NewProgram("Peer Special", nil, 150)
	newer.ModifiedAt = time.Now().Add(time.Hour)
	env, err := protocol.NewEnvelope(protocol.ActionProgramsUpdated, time.Now(),
		protocol.NewCatalogSnapshot([]domain.Program{newer}, newer.ModifiedAt))
	require.NoError(t, err)
	chA.InjectMessage(env)

	require.Eventually(t, func() bool {
		catalog := engine.LoadCatalog()
		return len(catalog) == 1 && catalog[0].Name == "Peer Special"
	}, eventuallyWait, eventuallyTick)
	require.Len(t, store.savedPrograms(), 1, "replacement must be persisted")
}

func TestRefreshWhileUnreachableDefersQuietly(t *testing.T) {
	chA, _ := channel.NewMemoryPair()
	chA.SetReachable(false)
	engine := startEngine(t, newMemStore(), chA)

	require.Eventually(t, func() bool {
		return engine.Status().Health <= 0.51
	}, eventuallyWait, eventuallyTick, "engine must observe the reachability drop")

	engine.RequestRefresh()
	time.Sleep(50 * time.Millisecond)

	status := engine.Status()
	require.False(t, status.InFlight, "unreachable peer must release the in-flight slot")
	require.InDelta(t, 0.5, status.Health, 1e-9, "deferring is not a failure, no extra penalty")
}

func TestWatchdogReclaimsSilentSend(t *testing.T) {
	engine := startEngine(t, newMemStore(), newSilentChannel(),
		WithTimings(Timings{Watchdog: 20 * time.Millisecond, SweepInterval: time.Hour, StaleAfter: time.Hour}),
		WithMaxAttempts(1))

	engine.RequestRefresh()

	require.Eventually(t, func() bool {
		status := engine.Status()
		return !status.InFlight && status.Health < 0.8
	}, eventuallyWait, eventuallyTick, "watchdog must reclaim the slot and count the failure")
}

func TestEnqueueReportsTotalStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failSaves(errors.New("disk full"))
	chA, _ := channel.NewMemoryPair()
	chA.SetReachable(false)
	engine := startEngine(t, store, chA)

	err := engine.EnqueueSession(testSession("s-nowhere"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")

	// Even with no durable copy the session rides along in memory and in the
	// pending queue, so a later reconnect can still deliver it.
	require.Len(t, engine.Sessions(), 1)
}

func TestSweepRefreshesWhenNeverSynced(t *testing.T) {
	chA, chB := channel.NewMemoryPair()
	engineA := startEngine(t, newMemStore(), chA,
		WithTimings(Timings{Watchdog: time.Second, SweepInterval: 20 * time.Millisecond, StaleAfter: time.Hour}))
	startEngine(t, newMemStore(), chB)

	require.Eventually(t, func() bool {
		return !engineA.Status().LastSync.IsZero()
	}, eventuallyWait, eventuallyTick, "sweep must trigger a refresh without an external call")
}

func TestAcceptedSessionsReachArchiver(t *testing.T) {
	archiver := &recordingArchiver{}
	chA, _ := channel.NewMemoryPair()
	chA.SetReachable(false)
	engine := startEngine(t, newMemStore(), chA, WithArchiver(archiver))

	require.NoError(t, engine.EnqueueSession(testSession("s-archived")))

	require.Eventually(t, func() bool {
		return len(archiver.saved()) == 1
	}, eventuallyWait, eventuallyTick)
	require.Equal(t, "s-archived", archiver.saved()[0].ID)
}

func startEngine(t *testing.T, store Store, ch channel.Channel, opts ...Option) *Engine {
	t.Helper()

	base := []Option{
		WithLogger(quietLogger(t)),
		WithTimings(Timings{Watchdog: 200 * time.Millisecond, SweepInterval: time.Hour, StaleAfter: time.Hour}),
	}
	engine := New(store, ch, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	t.Cleanup(func() {
		cancel()
		engine.Wait()
	})
	return engine
}

func testSession(id string) domain.Session {
	start := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	return domain.Session{
		ID:          id,
		Start:       start,
		End:         start.Add(30 * time.Minute),
		DurationSec: 1800,
	}
}

// memStore is an in-memory Store with injectable load and save faults.
type memStore struct {
	mu       sync.Mutex
	programs []domain.Program
	sessions []domain.Session
	seeded   bool
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{}
}

func (m *memStore) seedPrograms(programs ...domain.Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs = programs
	m.seeded = true
}

func (m *memStore) failSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *memStore) LoadPrograms() ([]domain.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seeded && m.programs == nil {
		return nil, persistence.ErrNotFound
	}
	return append([]domain.Program(nil), m.programs...), nil
}

func (m *memStore) LoadSessions() ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		return nil, persistence.ErrNotFound
	}
	return append([]domain.Session(nil), m.sessions...), nil
}

func (m *memStore) SavePrograms(catalog []domain.Program) persistence.WriteReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return persistence.WriteReport{PrimaryErr: m.saveErr, FallbackErr: m.saveErr}
	}
	m.programs = append([]domain.Program(nil), catalog...)
	m.seeded = true
	return persistence.WriteReport{}
}

func (m *memStore) SaveSessions(history []domain.Session) persistence.WriteReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return persistence.WriteReport{PrimaryErr: m.saveErr, FallbackErr: m.saveErr}
	}
	m.sessions = append([]domain.Session(nil), history...)
	return persistence.WriteReport{}
}

func (m *memStore) savedPrograms() []domain.Program {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Program(nil), m.programs...)
}

func (m *memStore) savedSessions() []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Session(nil), m.sessions...)
}

// silentChannel accepts sends and never calls back, the failure mode the
// watchdog exists for.
type silentChannel struct {
	events chan channel.Event
}

func newSilentChannel() *silentChannel {
	return &silentChannel{events: make(chan channel.Event)}
}

func (c *silentChannel) Activated() bool { return true }
func (c *silentChannel) Reachable() bool { return true }

func (c *silentChannel) Send(protocol.Envelope, channel.ReplyFunc, channel.ErrorFunc) {}

func (c *silentChannel) BackgroundTransfer(protocol.Envelope) string {
	return uuid.NewString()
}

func (c *silentChannel) Events() <-chan channel.Event { return c.events }
func (c *silentChannel) Close() error                 { return nil }

type recordingArchiver struct {
	mu       sync.Mutex
	sessions []domain.Session
}

func (a *recordingArchiver) SaveSession(_ context.Context, session domain.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, session)
	return nil
}

func (a *recordingArchiver) saved() []domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Session(nil), a.sessions...)
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func quietLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t: t}, "", 0)
}
