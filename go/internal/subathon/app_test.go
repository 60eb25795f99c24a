package subathon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
	"github.com/mcdev12/subathon/go/internal/subathon/memstore"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type recordingBroadcaster struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (r *recordingBroadcaster) Broadcast(envs []events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, envs...)
}

func (r *recordingBroadcaster) all() []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Envelope(nil), r.envs...)
}

type fixedDrawer int64

func (d fixedDrawer) Draw(*models.Subathon) int64 { return int64(d) }

type harness struct {
	app        *App
	store      *memstore.Store
	clock      *clockwork.FakeClock
	broadcast  *recordingBroadcaster
	streamerID uuid.UUID
}

func testSettings() models.SubathonSettings {
	return models.SubathonSettings{
		ClicksRequired:  10,
		CooldownSeconds: 5,
		TimeMode:        models.TimeModeFixed,
		TimeIncrement:   30,
		MinRandomTime:   10,
		MaxRandomTime:   60,
		InitialDuration: 3600,
	}
}

func newHarness(t *testing.T, settings models.SubathonSettings, opts ...func(*Options)) *harness {
	t.Helper()

	st := memstore.New()
	clock := clockwork.NewFakeClockAt(t0)
	rec := &recordingBroadcaster{}

	o := Options{Clock: clock, Broadcaster: rec}
	for _, opt := range opts {
		opt(&o)
	}
	app := NewApp(st, o)

	streamer := models.Streamer{
		ID:             uuid.New(),
		Platform:       "twitch",
		PlatformUserID: "141981764",
		Login:          "caedrel",
		DisplayName:    "Caedrel",
		Approved:       true,
		CreatedAt:      t0,
	}
	st.AddStreamer(streamer)

	_, err := app.CreateSubathon(context.Background(), streamer.ID, &settings)
	require.NoError(t, err)

	return &harness{app: app, store: st, clock: clock, broadcast: rec, streamerID: streamer.ID}
}

func (h *harness) goLive(t *testing.T) {
	t.Helper()
	_, err := h.app.Transition(context.Background(), h.streamerID, models.SubathonStatusLive, "test")
	require.NoError(t, err)
}

func (h *harness) subathon(t *testing.T) *models.Subathon {
	t.Helper()
	sub, err := h.app.GetSubathon(context.Background(), h.streamerID)
	require.NoError(t, err)
	return sub
}

func TestCreateSubathon_StartsOffline(t *testing.T) {
	h := newHarness(t, testSettings())

	sub := h.subathon(t)
	assert.Equal(t, models.SubathonStatusOffline, sub.Status)
	assert.Equal(t, int64(3600), sub.InitialDuration)
	assert.Zero(t, sub.Version)
}

func TestCreateSubathon_Errors(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	_, err := h.app.CreateSubathon(ctx, h.streamerID, nil)
	assert.ErrorIs(t, err, ErrSubathonExists)

	_, err = h.app.CreateSubathon(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrStreamerNotFound)

	pending := models.Streamer{ID: uuid.New(), Platform: "twitch", PlatformUserID: "99"}
	h.store.AddStreamer(pending)
	_, err = h.app.CreateSubathon(ctx, pending.ID, nil)
	assert.ErrorIs(t, err, ErrStreamerNotApproved)

	bad := testSettings()
	bad.ClicksRequired = 0
	_, err = h.app.CreateSubathon(ctx, h.streamerID, &bad)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateSubathon_RejectsZeroFixedReward(t *testing.T) {
	h := newHarness(t, testSettings())

	other := models.Streamer{ID: uuid.New(), Platform: "twitch", PlatformUserID: "77", Approved: true}
	h.store.AddStreamer(other)

	settings := testSettings()
	settings.TimeIncrement = 0
	_, err := h.app.CreateSubathon(context.Background(), other.ID, &settings)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, models.ErrInvalidSettings)
}

func TestTransition_RepeatedPauseResumeKeepsElapsed(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()
	h.goLive(t)

	for i := 0; i < 10; i++ {
		h.clock.Advance(1900 * time.Millisecond)
		_, err := h.app.Transition(ctx, h.streamerID, models.SubathonStatusPaused, "test")
		require.NoError(t, err)
		h.clock.Advance(100 * time.Millisecond)
		_, err = h.app.Transition(ctx, h.streamerID, models.SubathonStatusLive, "test")
		require.NoError(t, err)
	}

	snap, err := h.app.GetSnapshot(ctx, h.streamerID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(19), snap.ElapsedSeconds)
	assert.Equal(t, int64(3600-19), snap.RemainingSeconds)
	assert.Equal(t, int64(1), snap.Subathon.TotalPausedDuration)
}

func TestTransition_PauseAccounting(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.goLive(t)
	h.clock.Advance(100 * time.Second)
	_, err := h.app.Transition(ctx, h.streamerID, models.SubathonStatusPaused, "break")
	require.NoError(t, err)
	h.clock.Advance(20 * time.Second)
	_, err = h.app.Transition(ctx, h.streamerID, models.SubathonStatusLive, "back")
	require.NoError(t, err)
	h.clock.Advance(50 * time.Second)

	snap, err := h.app.GetSnapshot(ctx, h.streamerID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(150), snap.ElapsedSeconds)
	assert.Equal(t, int64(3600-150), snap.RemainingSeconds)
	assert.Equal(t, int64(20), snap.Subathon.TotalPausedDuration)
}

func TestTransition_Invalid(t *testing.T) {
	h := newHarness(t, testSettings())

	sub, err := h.app.Transition(context.Background(), h.streamerID, models.SubathonStatusPaused, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.SubathonStatusOffline, sub.Status)
	assert.Zero(t, sub.Version)
	assert.Empty(t, h.broadcast.all())
}

func TestTransition_UnknownSubathon(t *testing.T) {
	h := newHarness(t, testSettings())

	_, err := h.app.Transition(context.Background(), uuid.New(), models.SubathonStatusLive, "")
	assert.ErrorIs(t, err, ErrSubathonNotFound)
}

func TestTransition_EndedIsTerminal(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.goLive(t)
	_, err := h.app.Transition(ctx, h.streamerID, models.SubathonStatusEnded, "admin")
	require.NoError(t, err)

	for _, to := range []models.SubathonStatus{
		models.SubathonStatusLive,
		models.SubathonStatusPaused,
		models.SubathonStatusOffline,
		models.SubathonStatusEnded,
	} {
		_, err := h.app.Transition(ctx, h.streamerID, to, "")
		assert.ErrorIs(t, err, ErrInvalidTransition, to)
	}
}

func TestTick_AutoEndsAndBroadcasts(t *testing.T) {
	settings := testSettings()
	settings.InitialDuration = 60
	h := newHarness(t, settings)
	ctx := context.Background()

	h.goLive(t)
	h.clock.Advance(59 * time.Second)
	ended, err := h.app.Tick(ctx, h.streamerID)
	require.NoError(t, err)
	assert.False(t, ended)

	h.clock.Advance(5 * time.Second)
	ended, err = h.app.Tick(ctx, h.streamerID)
	require.NoError(t, err)
	assert.True(t, ended)

	sub := h.subathon(t)
	assert.Equal(t, models.SubathonStatusEnded, sub.Status)
	assert.Equal(t, int64(60), sub.TotalElapsedTime)

	envs := h.broadcast.all()
	last := envs[len(envs)-1]
	payload, err := events.DecodeStateChange(last)
	require.NoError(t, err)
	assert.Equal(t, models.SubathonStatusEnded, payload.Subathon.Status)
	assert.Equal(t, "time_expired", payload.Reason)
	assert.Zero(t, payload.RemainingSeconds)
}

func TestGoLive_WithNoTimeEndsImmediately(t *testing.T) {
	settings := testSettings()
	settings.InitialDuration = 0
	h := newHarness(t, settings)

	sub, err := h.app.Transition(context.Background(), h.streamerID, models.SubathonStatusLive, "start")
	require.NoError(t, err)
	assert.Equal(t, models.SubathonStatusEnded, sub.Status)
}

func TestUpdateSettings(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	updated := testSettings()
	updated.ClicksRequired = 25
	updated.TimeMode = models.TimeModeRandom
	sub, err := h.app.UpdateSettings(ctx, h.streamerID, updated)
	require.NoError(t, err)
	assert.Equal(t, 25, sub.ClicksRequired)
	assert.Equal(t, models.TimeModeRandom, sub.TimeMode)
	assert.Equal(t, int64(1), sub.Version)

	_, err = h.app.Transition(ctx, h.streamerID, models.SubathonStatusEnded, "")
	require.NoError(t, err)
	_, err = h.app.UpdateSettings(ctx, h.streamerID, updated)
	assert.ErrorIs(t, err, ErrSubathonEnded)
}

func TestStoreUnavailable_NoPartialMutation(t *testing.T) {
	settings := testSettings()
	settings.ClicksRequired = 1
	h := newHarness(t, settings)
	ctx := context.Background()
	h.goLive(t)
	before := h.subathon(t)
	broadcasts := len(h.broadcast.all())

	h.store.FailCommits(assert.AnError)
	_, err := h.app.RegisterClick(ctx, h.streamerID, "viewer-1")
	require.ErrorIs(t, err, ErrStoreUnavailable)

	h.store.FailCommits(nil)
	after := h.subathon(t)
	assert.Equal(t, before, after)
	assert.Len(t, h.broadcast.all(), broadcasts)

	additions, err := h.app.ListAdditions(ctx, h.streamerID, 10)
	require.NoError(t, err)
	assert.Empty(t, additions)

	// the failed click did not start a cooldown
	res, err := h.app.RegisterClick(ctx, h.streamerID, "viewer-1")
	require.NoError(t, err)
	assert.NotNil(t, res.Reward)
}

func TestGetSnapshot_VerifyLedgerTotal(t *testing.T) {
	settings := testSettings()
	settings.ClicksRequired = 1
	settings.CooldownSeconds = 0
	h := newHarness(t, settings)
	ctx := context.Background()
	h.goLive(t)

	for i := 0; i < 3; i++ {
		_, err := h.app.RegisterClick(ctx, h.streamerID, "viewer")
		require.NoError(t, err)
	}

	snap, err := h.app.GetSnapshot(ctx, h.streamerID, true)
	require.NoError(t, err)
	require.NotNil(t, snap.LedgerTotal)
	assert.Equal(t, int64(90), *snap.LedgerTotal)
	assert.Equal(t, snap.Subathon.TotalTimeAdded, *snap.LedgerTotal)
	assert.Len(t, snap.RecentAdditions, 3)
	assert.Equal(t, snap.Subathon.Version, snap.Version)
}

func TestOutboxMatchesBroadcasts(t *testing.T) {
	settings := testSettings()
	settings.ClicksRequired = 2
	h := newHarness(t, settings)
	ctx := context.Background()
	h.goLive(t)

	_, err := h.app.RegisterClick(ctx, h.streamerID, "a")
	require.NoError(t, err)
	_, err = h.app.RegisterClick(ctx, h.streamerID, "b")
	require.NoError(t, err)

	assert.Equal(t, h.store.Outbox(), h.broadcast.all())

	envs := h.broadcast.all()
	require.Len(t, envs, 4) // live, click, reward ledger_append + state_change
	assert.Equal(t, events.TypeLedgerAppend, envs[2].Type)
	assert.Equal(t, events.TypeStateChange, envs[3].Type)
	assert.Equal(t, envs[2].Version, envs[3].Version)
	assert.Less(t, envs[1].Version, envs[2].Version)
}

func TestGetSnapshot_AdditionsMatchVersion(t *testing.T) {
	h := newHarness(t, testSettings(), func(o *Options) { o.RecentAdditions = 1000 })
	ctx := context.Background()
	h.goLive(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 100; i++ {
			_, err := h.app.Ingest(ctx, subscribeEvent(fmt.Sprintf("E-%d", i)))
			assert.NoError(t, err)
		}
	}()

	for {
		snap, err := h.app.GetSnapshot(ctx, h.streamerID, false)
		require.NoError(t, err)

		var listed int64
		for _, a := range snap.RecentAdditions {
			listed += a.TimeSeconds
		}
		require.Equal(t, snap.Subathon.TotalTimeAdded, listed, "version %d", snap.Version)

		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
	}
}
