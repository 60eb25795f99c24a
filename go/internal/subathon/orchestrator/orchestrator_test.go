package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon"
	"github.com/mcdev12/subathon/go/internal/subathon/memstore"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	app        *subathon.App
	orch       *Orchestrator
	clock      *clockwork.FakeClock
	streamerID uuid.UUID
}

// newFixture creates an offline subathon with a one minute timer. When
// wired is false the orchestrator does not receive the app's broadcasts.
func newFixture(t *testing.T, wired bool) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(t0)
	orch := New(Config{Clock: clock, NumWorkers: 2, RetryDelay: 5 * time.Second})

	st := memstore.New()
	opts := subathon.Options{Clock: clock}
	if wired {
		opts.Broadcaster = orch
	}
	app := subathon.NewApp(st, opts)

	streamerID := uuid.New()
	st.AddStreamer(models.Streamer{
		ID:             streamerID,
		Platform:       "twitch",
		PlatformUserID: "1234",
		Login:          "streamer",
		Approved:       true,
		CreatedAt:      t0,
	})

	settings := models.DefaultSubathonSettings()
	settings.InitialDuration = 60
	_, err := app.CreateSubathon(context.Background(), streamerID, &settings)
	require.NoError(t, err)

	return &fixture{app: app, orch: orch, clock: clock, streamerID: streamerID}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.orch.Run(ctx, f.app) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})
}

func (f *fixture) status(t *testing.T) *models.Subathon {
	t.Helper()
	s, err := f.app.GetSubathon(context.Background(), f.streamerID)
	require.NoError(t, err)
	return s
}

func (f *fixture) waitEnded(t *testing.T, at time.Time) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.status(t).Status == models.SubathonStatusEnded
	}, 2*time.Second, 5*time.Millisecond)

	s := f.status(t)
	require.NotNil(t, s.EndedAt)
	assert.True(t, s.EndedAt.Equal(at), "ended at %s, want %s", s.EndedAt, at)
	assert.Equal(t, s.InitialDuration+s.TotalTimeAdded, s.TotalElapsedTime)
}

func TestOrchestrator_EndsWithoutInteraction(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.app.Transition(ctx, f.streamerID, models.SubathonStatusLive, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, f.orch.Pending())

	f.run(t)
	f.clock.Advance(59 * time.Second)
	assert.Equal(t, models.SubathonStatusLive, f.status(t).Status)

	f.clock.Advance(time.Second)
	f.waitEnded(t, t0.Add(60*time.Second))
	assert.Eventually(t, func() bool { return f.orch.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_PauseCancelsAndResumeReschedules(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.app.Transition(ctx, f.streamerID, models.SubathonStatusLive, "test")
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	_, err = f.app.Transition(ctx, f.streamerID, models.SubathonStatusPaused, "test")
	require.NoError(t, err)
	assert.Zero(t, f.orch.Pending())

	f.run(t)
	f.clock.Advance(100 * time.Second)
	assert.Equal(t, models.SubathonStatusPaused, f.status(t).Status)

	_, err = f.app.Transition(ctx, f.streamerID, models.SubathonStatusLive, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, f.orch.Pending())

	f.clock.Advance(40 * time.Second)
	f.waitEnded(t, t0.Add(160*time.Second))
}

func TestOrchestrator_BootstrapsLiveSubathons(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.app.Transition(context.Background(), f.streamerID, models.SubathonStatusLive, "test")
	require.NoError(t, err)
	assert.Zero(t, f.orch.Pending())

	f.run(t)
	require.Eventually(t, func() bool { return f.orch.Pending() == 1 }, time.Second, 5*time.Millisecond)

	f.clock.Advance(time.Minute)
	f.waitEnded(t, t0.Add(time.Minute))
}

func TestOrchestrator_IgnoresStaleVersions(t *testing.T) {
	orch := New(Config{Clock: clockwork.NewFakeClockAt(t0)})
	started := t0
	live := &models.Subathon{
		StreamerID:      uuid.New(),
		Status:          models.SubathonStatusLive,
		InitialDuration: 60,
		StreamStartedAt: &started,
		Version:         2,
	}
	orch.Observe(live)
	require.Equal(t, 1, orch.Pending())

	stale := live.Clone()
	stale.Status = models.SubathonStatusOffline
	stale.StreamStartedAt = nil
	stale.Version = 1
	orch.Observe(stale)
	assert.Equal(t, 1, orch.Pending())

	newer := stale.Clone()
	newer.Version = 3
	orch.Observe(newer)
	assert.Zero(t, orch.Pending())
}

type flakyEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *flakyEngine) Tick(ctx context.Context, streamerID uuid.UUID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls == 1 {
		return false, subathon.ErrStoreUnavailable
	}
	return true, nil
}

func (e *flakyEngine) ListLive(ctx context.Context) ([]models.Subathon, error) {
	return nil, nil
}

func (e *flakyEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestOrchestrator_RetriesFailedTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	orch := New(Config{Clock: clock, NumWorkers: 1, RetryDelay: 5 * time.Second})
	engine := &flakyEngine{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx, engine)

	started := t0
	orch.Observe(&models.Subathon{
		StreamerID:      uuid.New(),
		Status:          models.SubathonStatusLive,
		InitialDuration: 10,
		StreamStartedAt: &started,
		Version:         1,
	})

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return engine.count() == 1 && orch.Pending() == 1
	}, time.Second, 5*time.Millisecond)

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return engine.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_RunFailsWhenBootstrapFails(t *testing.T) {
	orch := New(Config{Clock: clockwork.NewFakeClockAt(t0)})
	err := orch.Run(context.Background(), failingEngine{})
	assert.Error(t, err)
}

type failingEngine struct{}

func (failingEngine) Tick(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (failingEngine) ListLive(context.Context) ([]models.Subathon, error) {
	return nil, errors.New("db down")
}
