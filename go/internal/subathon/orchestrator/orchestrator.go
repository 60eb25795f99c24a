// Package orchestrator ends live subathons when their timer reaches zero,
// even when nobody interacts with them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
	"github.com/mcdev12/subathon/go/internal/subathon/timer"
)

// Engine is what the orchestrator needs from the subathon app
type Engine interface {
	Tick(ctx context.Context, streamerID uuid.UUID) (bool, error)
	ListLive(ctx context.Context) ([]models.Subathon, error)
}

type Config struct {
	Clock      clockwork.Clock
	NumWorkers int
	// RetryDelay is how long to wait before ticking again after a failed tick
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Clock:      clockwork.NewRealClock(),
		NumWorkers: 4,
		RetryDelay: 5 * time.Second,
	}
}

// Orchestrator keeps one timer per live subathon at the instant its
// remaining time reaches zero, and ticks the subathon when it fires. It
// learns about deadlines from committed state changes via Broadcast.
type Orchestrator struct {
	clock      clockwork.Clock
	numWorkers int
	retryDelay time.Duration
	instanceID string

	workCh chan uuid.UUID
	done   chan struct{}
	once   sync.Once

	activeTimers   map[uuid.UUID]clockwork.Timer
	deadlines      map[uuid.UUID]time.Time
	versions       map[uuid.UUID]int64
	activeTimersMu sync.Mutex
}

func New(cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = def.NumWorkers
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return &Orchestrator{
		clock:        cfg.Clock,
		numWorkers:   cfg.NumWorkers,
		retryDelay:   cfg.RetryDelay,
		instanceID:   uuid.New().String()[:8],
		workCh:       make(chan uuid.UUID, cfg.NumWorkers*16),
		done:         make(chan struct{}),
		activeTimers: make(map[uuid.UUID]clockwork.Timer),
		deadlines:    make(map[uuid.UUID]time.Time),
		versions:     make(map[uuid.UUID]int64),
	}
}

// Broadcast reacts to committed state changes. It never blocks.
func (o *Orchestrator) Broadcast(envs []events.Envelope) {
	for _, env := range envs {
		if env.Type != events.TypeStateChange {
			continue
		}
		p, err := events.DecodeStateChange(env)
		if err != nil || p.Subathon == nil {
			log.Error().Err(err).Str("event_id", env.ID.String()).Msg("failed to decode state change")
			continue
		}
		o.Observe(p.Subathon)
	}
}

// Observe schedules or cancels the end timer for s. Older versions than the
// last one observed are ignored.
func (o *Orchestrator) Observe(s *models.Subathon) {
	o.activeTimersMu.Lock()
	if last, ok := o.versions[s.StreamerID]; ok && s.Version < last {
		o.activeTimersMu.Unlock()
		return
	}
	o.versions[s.StreamerID] = s.Version
	o.activeTimersMu.Unlock()

	deadline, live := timer.Deadline(s)
	if !live {
		o.cancelTimer(s.StreamerID)
		return
	}
	o.scheduleAt(s.StreamerID, deadline)
}

// Run bootstraps timers for every live subathon and processes fired timers
// until ctx is cancelled
func (o *Orchestrator) Run(ctx context.Context, engine Engine) error {
	log.Info().
		Str("instance", o.instanceID).
		Int("workers", o.numWorkers).
		Msg("end scheduler started")

	if err := o.bootstrap(ctx, engine); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < o.numWorkers; i++ {
		wg.Add(1)
		go o.worker(ctx, engine, &wg, i)
	}

	<-ctx.Done()
	o.shutdown()
	wg.Wait()
	log.Info().Str("instance", o.instanceID).Msg("end scheduler stopped")
	return nil
}

func (o *Orchestrator) bootstrap(ctx context.Context, engine Engine) error {
	live, err := engine.ListLive(ctx)
	if err != nil {
		return fmt.Errorf("list live subathons: %w", err)
	}
	for i := range live {
		o.Observe(&live[i])
	}
	log.Info().Int("live", len(live)).Msg("scheduled end timers for live subathons")
	return nil
}

func (o *Orchestrator) shutdown() {
	o.once.Do(func() {
		close(o.done)
	})

	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	for streamerID, t := range o.activeTimers {
		stopAndDrainTimer(t)
		log.Debug().Str("streamer_id", streamerID.String()).Msg("cancelled timer on shutdown")
	}
	o.activeTimers = make(map[uuid.UUID]clockwork.Timer)
	o.deadlines = make(map[uuid.UUID]time.Time)
}

func (o *Orchestrator) worker(ctx context.Context, engine Engine, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case streamerID := <-o.workCh:
			o.handleDeadline(ctx, engine, streamerID, workerID)
		}
	}
}

func (o *Orchestrator) handleDeadline(ctx context.Context, engine Engine, streamerID uuid.UUID, workerID int) {
	ended, err := engine.Tick(ctx, streamerID)
	switch {
	case err == nil:
		log.Debug().
			Str("streamer_id", streamerID.String()).
			Int("worker_id", workerID).
			Bool("ended", ended).
			Msg("deadline tick")
	case errors.Is(err, subathon.ErrSubathonNotFound):
		o.cancelTimer(streamerID)
	case ctx.Err() != nil:
	default:
		log.Error().
			Err(err).
			Str("streamer_id", streamerID.String()).
			Int("worker_id", workerID).
			Msg("deadline tick failed, retrying")
		o.scheduleAt(streamerID, o.clock.Now().Add(o.retryDelay))
	}
}
