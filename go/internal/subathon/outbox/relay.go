// Package outbox relays committed subathon envelopes from the outbox table to
// the message bus.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/metrics"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
)

// Store is what the relay needs from the outbox table
type Store interface {
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (*events.Envelope, error)
	FetchUnsentOutbox(ctx context.Context, limit int) ([]events.Envelope, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
}

// Publisher delivers one envelope to the bus. Publishing the same envelope
// twice must be harmless.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

type RelayConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	BatchSize  int // Max events to fetch per batch
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		MaxRetries: 5,
		RetryDelay: 200 * time.Millisecond,
		BatchSize:  100,
	}
}

// Relay publishes outbox rows and marks them sent
type Relay struct {
	store     Store
	publisher Publisher
	cfg       RelayConfig
	clock     clockwork.Clock
	metrics   metrics.MetricsCollector
}

func NewRelay(store Store, publisher Publisher, cfg RelayConfig, clock clockwork.Clock, collector metrics.MetricsCollector) *Relay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if collector == nil {
		collector = metrics.NoopCollector{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRelayConfig().BatchSize
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		clock:     clock,
		metrics:   collector,
	}
}

// HandleNotification publishes the row named by a NOTIFY payload. A row that
// is already sent was handled by the fallback sweep and is skipped.
func (r *Relay) HandleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	env, err := r.store.FetchOutboxByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			log.Debug().Str("event_id", id.String()).Msg("outbox event already sent")
			return nil
		}
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}

	if err := r.publishWithRetry(ctx, *env); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// ProcessUnsent publishes one batch of unsent rows in order. It stops at the
// first row that cannot be published so later versions do not overtake it.
func (r *Relay) ProcessUnsent(ctx context.Context) (int, error) {
	unsent, err := r.store.FetchUnsentOutbox(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	sent := 0
	for _, env := range unsent {
		if err := r.publishWithRetry(ctx, env); err != nil {
			return sent, fmt.Errorf("publish %s: %w", env.ID, err)
		}
		sent++
	}
	if sent > 0 {
		log.Info().Int("count", sent).Msg("relayed unsent outbox events")
	}
	return sent, nil
}

// publishWithRetry publishes with linear backoff and marks the row sent
func (r *Relay) publishWithRetry(ctx context.Context, env events.Envelope) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, env); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", env.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if err := r.store.MarkOutboxSent(ctx, env.ID); err != nil {
			log.Error().Err(err).Str("event_id", env.ID.String()).Msg("failed to mark outbox event as sent")
			r.metrics.RecordOutboxPublish(metrics.OutboxFailed)
			return err
		}

		r.metrics.RecordOutboxPublish(metrics.OutboxPublished)
		log.Debug().
			Str("event_id", env.ID.String()).
			Str("streamer_id", env.StreamerID.String()).
			Str("type", string(env.Type)).
			Int64("version", env.Version).
			Int("attempt", attempt+1).
			Msg("published and marked event as sent")
		return nil
	}

	r.metrics.RecordOutboxPublish(metrics.OutboxFailed)
	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
