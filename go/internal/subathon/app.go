package subathon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/metrics"
	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
	"github.com/mcdev12/subathon/go/internal/subathon/store"
	"github.com/mcdev12/subathon/go/internal/subathon/timer"
)

// Repository defines what the subathon app layer needs from storage
type Repository interface {
	CreateSubathon(ctx context.Context, s *models.Subathon) error
	GetSubathon(ctx context.Context, streamerID uuid.UUID) (*models.Subathon, error)
	ListSubathonsByStatus(ctx context.Context, status models.SubathonStatus) ([]models.Subathon, error)

	ListTimeAdditions(ctx context.Context, streamerID uuid.UUID, limit int) ([]models.TimeAddition, error)
	// ReadSnapshot returns the subathon and its newest ledger rows as of a
	// single committed state
	ReadSnapshot(ctx context.Context, streamerID uuid.UUID, limit int) (*models.Subathon, []models.TimeAddition, error)
	SumTimeAdditions(ctx context.Context, streamerID uuid.UUID) (int64, error)

	GetStreamer(ctx context.Context, id uuid.UUID) (*models.Streamer, error)
	FindStreamerByPlatformUser(ctx context.Context, platform, platformUserID string) (*models.Streamer, error)

	RecordUnresolvedEvent(ctx context.Context, ev models.UnresolvedEvent) error
	ListUnresolvedEvents(ctx context.Context, limit int) ([]models.UnresolvedEvent, error)

	// WithSubathonLock runs fn in one transaction holding the streamer's row lock
	WithSubathonLock(ctx context.Context, streamerID uuid.UUID, fn func(tx store.SubathonTx) error) error
}

// Broadcaster receives envelopes once their transaction has committed.
// Implementations must not block.
type Broadcaster interface {
	Broadcast(envs []events.Envelope)
}

// Broadcasters fans out to several broadcasters in order
type Broadcasters []Broadcaster

func (b Broadcasters) Broadcast(envs []events.Envelope) {
	for _, br := range b {
		br.Broadcast(envs)
	}
}

// RewardDrawer picks the number of seconds a completed click quota is worth
type RewardDrawer interface {
	Draw(s *models.Subathon) int64
}

// Options configures an App. Zero values fall back to defaults.
type Options struct {
	Clock           clockwork.Clock
	Policy          *Policy
	Drawer          RewardDrawer
	Broadcaster     Broadcaster
	Metrics         metrics.MetricsCollector
	DefaultSettings *models.SubathonSettings
	RecentAdditions int
}

const lockStripes = 64

type App struct {
	repo            Repository
	clock           clockwork.Clock
	policy          Policy
	drawer          RewardDrawer
	broadcaster     Broadcaster
	metrics         metrics.MetricsCollector
	defaultSettings models.SubathonSettings
	recentAdditions int

	// stripes serialise commit and broadcast per streamer within this process
	// so local subscribers see versions in order.
	stripes [lockStripes]sync.Mutex
}

func NewApp(repo Repository, opts Options) *App {
	app := &App{
		repo:            repo,
		clock:           opts.Clock,
		policy:          DefaultPolicy(),
		drawer:          opts.Drawer,
		broadcaster:     opts.Broadcaster,
		metrics:         opts.Metrics,
		defaultSettings: models.DefaultSubathonSettings(),
		recentAdditions: opts.RecentAdditions,
	}
	if opts.Policy != nil {
		app.policy = *opts.Policy
	}
	if opts.DefaultSettings != nil {
		app.defaultSettings = *opts.DefaultSettings
	}
	if app.clock == nil {
		app.clock = clockwork.NewRealClock()
	}
	if app.drawer == nil {
		app.drawer = DefaultRewardDrawer{}
	}
	if app.broadcaster == nil {
		app.broadcaster = Broadcasters(nil)
	}
	if app.metrics == nil {
		app.metrics = metrics.NoopCollector{}
	}
	if app.recentAdditions <= 0 {
		app.recentAdditions = 20
	}
	return app
}

// Now returns the engine's clock reading
func (a *App) Now() time.Time {
	return a.clock.Now()
}

// CreateSubathon creates the offline subathon for an approved streamer
func (a *App) CreateSubathon(ctx context.Context, streamerID uuid.UUID, settings *models.SubathonSettings) (*models.Subathon, error) {
	s := a.defaultSettings
	if settings != nil {
		s = *settings
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	streamer, err := a.repo.GetStreamer(ctx, streamerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("create subathon: %w", ErrStreamerNotFound)
		}
		return nil, storeError("create subathon", err)
	}
	if !streamer.Approved {
		return nil, fmt.Errorf("create subathon: %w", ErrStreamerNotApproved)
	}

	sub := models.NewSubathon(streamerID, s, a.clock.Now())
	if err := a.repo.CreateSubathon(ctx, sub); err != nil {
		return nil, storeError("create subathon", err)
	}

	log.Info().
		Str("streamer_id", streamerID.String()).
		Int("clicks_required", sub.ClicksRequired).
		Int64("initial_duration", sub.InitialDuration).
		Msg("subathon created")

	return sub, nil
}

// GetSubathon returns the stored subathon without settling it
func (a *App) GetSubathon(ctx context.Context, streamerID uuid.UUID) (*models.Subathon, error) {
	sub, err := a.repo.GetSubathon(ctx, streamerID)
	if err != nil {
		return nil, storeError("get subathon", err)
	}
	return sub, nil
}

// GetSnapshot returns the full state a late joiner needs. When verify is set
// the ledger sum is included so operators can compare it with total_time_added.
func (a *App) GetSnapshot(ctx context.Context, streamerID uuid.UUID, verify bool) (*models.Snapshot, error) {
	sub, recent, err := a.repo.ReadSnapshot(ctx, streamerID, a.recentAdditions)
	if err != nil {
		return nil, storeError("get snapshot", err)
	}

	now := a.clock.Now()
	snap := &models.Snapshot{
		Subathon:         sub,
		ElapsedSeconds:   timer.Elapsed(sub, now),
		RemainingSeconds: timer.Remaining(sub, now),
		ServerTime:       now,
		Version:          sub.Version,
		RecentAdditions:  recent,
	}

	if verify {
		total, err := a.repo.SumTimeAdditions(ctx, streamerID)
		if err != nil {
			return nil, storeError("sum time additions", err)
		}
		snap.LedgerTotal = &total
		if total != sub.TotalTimeAdded {
			log.Error().
				Str("streamer_id", streamerID.String()).
				Int64("ledger_total", total).
				Int64("total_time_added", sub.TotalTimeAdded).
				Msg("ledger total does not match subathon total")
		}
	}

	return snap, nil
}

// Transition moves a subathon to a new status. The returned subathon reflects
// the committed state even when the move is rejected.
func (a *App) Transition(ctx context.Context, streamerID uuid.UUID, to models.SubathonStatus, reason string) (*models.Subathon, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, to)
	}

	m, err := a.mutate(ctx, streamerID, "transition", func(m *mutation) error {
		m.transition(to, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.reject != nil {
		return m.sub, m.reject
	}
	return m.sub, nil
}

// Tick ends the subathon if its time has run out. It reports whether it ended.
func (a *App) Tick(ctx context.Context, streamerID uuid.UUID) (bool, error) {
	m, err := a.mutate(ctx, streamerID, "tick", func(m *mutation) error {
		m.settle()
		return nil
	})
	if err != nil {
		return false, err
	}
	return m.changed, nil
}

// UpdateSettings replaces the streamer-configurable settings
func (a *App) UpdateSettings(ctx context.Context, streamerID uuid.UUID, settings models.SubathonSettings) (*models.Subathon, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	m, err := a.mutate(ctx, streamerID, "update settings", func(m *mutation) error {
		m.settle()
		if m.sub.Status == models.SubathonStatusEnded {
			m.reject = ErrSubathonEnded
			return nil
		}
		m.sub.ApplySettings(settings)
		m.changed = true
		m.reason = "settings_updated"
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.reject != nil {
		return m.sub, m.reject
	}
	return m.sub, nil
}

// ListAdditions returns the newest ledger rows first
func (a *App) ListAdditions(ctx context.Context, streamerID uuid.UUID, limit int) ([]models.TimeAddition, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := a.repo.ListTimeAdditions(ctx, streamerID, limit)
	if err != nil {
		return nil, storeError("list additions", err)
	}
	return rows, nil
}

// ListUnresolvedEvents returns platform events waiting for reconciliation
func (a *App) ListUnresolvedEvents(ctx context.Context, limit int) ([]models.UnresolvedEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := a.repo.ListUnresolvedEvents(ctx, limit)
	if err != nil {
		return nil, storeError("list unresolved events", err)
	}
	return rows, nil
}

// ListLive returns every subathon currently counting down
func (a *App) ListLive(ctx context.Context) ([]models.Subathon, error) {
	subs, err := a.repo.ListSubathonsByStatus(ctx, models.SubathonStatusLive)
	if err != nil {
		return nil, storeError("list live subathons", err)
	}
	return subs, nil
}

// mutation is the working state of one locked read-modify-write
type mutation struct {
	ctx  context.Context
	tx   store.SubathonTx
	sub  *models.Subathon
	prev models.SubathonStatus
	now  time.Time

	additions []models.TimeAddition
	changed   bool
	reason    string
	duplicate bool
	reject    error
}

// settle ends the subathon if its budget ran out
func (m *mutation) settle() {
	if timer.Settle(m.sub, m.now) {
		m.changed = true
		m.reason = "time_expired"
	}
}

func (m *mutation) transition(to models.SubathonStatus, reason string) {
	m.settle()
	if err := timer.Transition(m.sub, to, m.now); err != nil {
		m.reject = err
		return
	}
	m.changed = true
	m.reason = reason
	// a subathon can go live with nothing left on the clock
	m.settle()
}

// seen marks the mutation a duplicate when the platform event id was
// already applied
func (m *mutation) seen(eventID string) (bool, error) {
	seen, err := m.tx.HasExternalEvent(m.ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("check external event: %w", err)
	}
	m.duplicate = seen
	return seen, nil
}

// appendAndRecompute is the only path by which time is added. The ledger row
// and the running total move together inside the caller's transaction. It
// reports false when the row was a duplicate external event.
func (m *mutation) appendAndRecompute(addition models.TimeAddition) (bool, error) {
	inserted, err := m.tx.InsertTimeAddition(m.ctx, addition)
	if err != nil {
		return false, fmt.Errorf("insert time addition: %w", err)
	}
	if !inserted {
		m.duplicate = true
		return false, nil
	}
	m.sub.TotalTimeAdded += addition.TimeSeconds
	m.additions = append(m.additions, addition)
	m.changed = true
	return true, nil
}

// mutate runs fn against the streamer's locked subathon. If fn changed
// anything the row is saved with a bumped version and the change envelopes
// are written to the outbox in the same transaction. Envelopes are broadcast
// only after commit.
func (a *App) mutate(ctx context.Context, streamerID uuid.UUID, op string, fn func(m *mutation) error) (*mutation, error) {
	stripe := &a.stripes[int(streamerID[15])%lockStripes]
	stripe.Lock()
	defer stripe.Unlock()

	var (
		m      *mutation
		staged []events.Envelope
	)
	err := a.repo.WithSubathonLock(ctx, streamerID, func(tx store.SubathonTx) error {
		sub := tx.Subathon()
		m = &mutation{
			ctx:  ctx,
			tx:   tx,
			sub:  sub,
			prev: sub.Status,
			now:  a.clock.Now(),
		}
		if err := fn(m); err != nil {
			return err
		}
		if !m.changed {
			return nil
		}

		m.sub.Version++
		m.sub.UpdatedAt = m.now
		if err := tx.SaveSubathon(ctx, m.sub); err != nil {
			return fmt.Errorf("save subathon: %w", err)
		}

		envs, err := a.envelopes(m)
		if err != nil {
			return err
		}
		if err := tx.InsertOutbox(ctx, envs); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		staged = envs
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("streamer_id", streamerID.String()).Str("op", op).Msg("subathon mutation failed")
		return nil, storeError(op, err)
	}

	if len(staged) > 0 {
		a.afterCommit(m, staged)
	}
	return m, nil
}

func (a *App) envelopes(m *mutation) ([]events.Envelope, error) {
	elapsed := timer.Elapsed(m.sub, m.now)
	remaining := timer.Remaining(m.sub, m.now)

	envs := make([]events.Envelope, 0, len(m.additions)+1)
	for _, addition := range m.additions {
		env, err := events.NewEnvelope(m.sub.StreamerID, events.TypeLedgerAppend, m.sub.Version, m.now, events.LedgerAppendPayload{
			Addition:         addition,
			TotalTimeAdded:   m.sub.TotalTimeAdded,
			RemainingSeconds: remaining,
		})
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}

	env, err := events.NewEnvelope(m.sub.StreamerID, events.TypeStateChange, m.sub.Version, m.now, events.StateChangePayload{
		Subathon:         m.sub.Clone(),
		PreviousStatus:   m.prev,
		ElapsedSeconds:   elapsed,
		RemainingSeconds: remaining,
		Reason:           m.reason,
	})
	if err != nil {
		return nil, err
	}
	return append(envs, env), nil
}

func (a *App) afterCommit(m *mutation, envs []events.Envelope) {
	for _, addition := range m.additions {
		a.metrics.RecordTimeAdded(string(addition.EventType), addition.TimeSeconds)
	}
	if m.sub.Status != m.prev {
		a.metrics.RecordTransition(string(m.prev), string(m.sub.Status))
		log.Info().
			Str("streamer_id", m.sub.StreamerID.String()).
			Str("from", string(m.prev)).
			Str("to", string(m.sub.Status)).
			Str("reason", m.reason).
			Int64("version", m.sub.Version).
			Msg("subathon status changed")
	}
	a.broadcaster.Broadcast(envs)
}
