package subathon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon/store"
)

// DefaultPlatform is assumed when a raw event does not name one
const DefaultPlatform = "twitch"

// IngestResult is the outcome of ingesting one platform event
type IngestResult struct {
	Accepted   bool                 `json:"accepted"`
	Duplicate  bool                 `json:"duplicate,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	StreamerID *uuid.UUID           `json:"streamer_id,omitempty"`
	Seconds    int64                `json:"seconds"`
	Addition   *models.TimeAddition `json:"addition,omitempty"`
}

// Ingest converts a platform event into time on the broadcaster's subathon.
// Redelivery of an event id that was already applied is reported as an
// accepted duplicate and changes nothing, whatever the subathon's status.
func (a *App) Ingest(ctx context.Context, ev RawEvent) (IngestResult, error) {
	ev.EventID = strings.TrimSpace(ev.EventID)
	if ev.EventID == "" {
		return IngestResult{}, fmt.Errorf("%w: event id is required", ErrInvalidEvent)
	}
	if ev.BroadcasterUserID == "" {
		return IngestResult{}, fmt.Errorf("%w: broadcaster user id is required", ErrInvalidEvent)
	}
	if ev.Platform == "" {
		ev.Platform = DefaultPlatform
	}

	logger := log.With().
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Str("broadcaster_user_id", ev.BroadcasterUserID).
		Logger()

	var (
		seconds int64
		typ     models.TimeAdditionEventType
	)
	lifecycle := ev.EventType == EventTypeStreamOnline || ev.EventType == EventTypeStreamOffline
	if !lifecycle {
		var reason string
		seconds, typ, reason = a.policy.Seconds(ev)
		if reason != "" {
			a.metrics.RecordIngest(ev.EventType, reason)
			logger.Warn().Str("reason", reason).Msg("platform event not mapped to time")
			return IngestResult{Reason: reason}, nil
		}
	}

	streamer, err := a.resolveStreamer(ctx, ev)
	if err != nil {
		return IngestResult{Reason: ReasonUnresolvedStreamer}, err
	}
	streamerID := streamer.ID
	logger = logger.With().Str("streamer_id", streamerID.String()).Logger()

	if lifecycle {
		return a.ingestLifecycle(ctx, ev, streamer)
	}

	if seconds == 0 {
		a.metrics.RecordIngest(ev.EventType, ReasonBelowThreshold)
		logger.Debug().Msg("platform event worth zero seconds")
		return IngestResult{Accepted: true, Reason: ReasonBelowThreshold, StreamerID: &streamerID}, nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return IngestResult{}, fmt.Errorf("marshal event data: %w", err)
	}
	eventID := ev.EventID
	addition := models.TimeAddition{
		ID:              uuid.New(),
		StreamerID:      streamerID,
		EventType:       typ,
		TimeSeconds:     seconds,
		ExternalEventID: &eventID,
		EventData:       data,
	}
	if ev.UserLogin != "" && !ev.IsAnonymous {
		login := ev.UserLogin
		addition.PlayerIdentity = &login
	}

	m, err := a.mutate(ctx, streamerID, "ingest event", func(m *mutation) error {
		if seen, err := m.seen(eventID); err != nil || seen {
			return err
		}
		m.settle()
		if m.sub.Status != models.SubathonStatusLive {
			m.reject = ErrStreamerNotLive
			return nil
		}
		addition.CreatedAt = m.now
		_, err := m.appendAndRecompute(addition)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrSubathonNotFound) {
			return a.unresolved(ctx, ev, "no_subathon")
		}
		a.metrics.RecordIngest(ev.EventType, "error")
		return IngestResult{}, err
	}

	result := IngestResult{StreamerID: &streamerID}
	switch {
	case m.duplicate:
		result.Accepted = true
		result.Duplicate = true
		result.Reason = ReasonDuplicate
		a.metrics.RecordIngest(ev.EventType, ReasonDuplicate)
		logger.Info().Msg("duplicate platform event ignored")
	case m.reject != nil:
		result.Reason = ReasonStreamerNotLive
		a.metrics.RecordIngest(ev.EventType, ReasonStreamerNotLive)
		logger.Info().Str("status", string(m.sub.Status)).Msg("platform event ignored, streamer not live")
	default:
		result.Accepted = true
		result.Seconds = seconds
		result.Addition = &addition
		a.metrics.RecordIngest(ev.EventType, "accepted")
		logger.Info().
			Int64("seconds", seconds).
			Int64("version", m.sub.Version).
			Msg("platform event added time")
	}
	return result, nil
}

// ingestLifecycle applies stream.online and stream.offline. The event id is
// recorded with the change, so a redelivery is a duplicate even when the
// transition would be legal again by then. Events that do not fit the current
// status are accepted as no-ops.
func (a *App) ingestLifecycle(ctx context.Context, ev RawEvent, streamer *models.Streamer) (IngestResult, error) {
	to := models.SubathonStatusLive
	if ev.EventType == EventTypeStreamOffline {
		to = models.SubathonStatusOffline
	}

	streamerID := streamer.ID
	m, err := a.mutate(ctx, streamerID, ev.EventType, func(m *mutation) error {
		if seen, err := m.seen(ev.EventID); err != nil || seen {
			return err
		}
		marked, err := m.tx.MarkEventProcessed(m.ctx, ev.EventID, ev.EventType, m.now)
		if err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		if !marked {
			m.duplicate = true
			return nil
		}
		m.transition(to, ev.EventType)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSubathonNotFound) {
			return a.unresolved(ctx, ev, "no_subathon")
		}
		a.metrics.RecordIngest(ev.EventType, "error")
		return IngestResult{}, err
	}

	logger := log.With().
		Str("event_id", ev.EventID).
		Str("streamer_id", streamerID.String()).
		Str("status", string(m.sub.Status)).
		Logger()

	switch {
	case m.duplicate:
		a.metrics.RecordIngest(ev.EventType, ReasonDuplicate)
		logger.Info().Msg("duplicate stream lifecycle event ignored")
		return IngestResult{Accepted: true, Duplicate: true, Reason: ReasonDuplicate, StreamerID: &streamerID}, nil
	case errors.Is(m.reject, ErrInvalidTransition):
		a.metrics.RecordIngest(ev.EventType, ReasonNoTransition)
		logger.Info().Msg("stream lifecycle event did not change status")
		return IngestResult{Accepted: true, Reason: ReasonNoTransition, StreamerID: &streamerID}, nil
	}

	a.metrics.RecordIngest(ev.EventType, "accepted")
	return IngestResult{Accepted: true, StreamerID: &streamerID}, nil
}

// resolveStreamer maps the event's broadcaster to an approved streamer.
// Unresolvable events are recorded for reconciliation.
func (a *App) resolveStreamer(ctx context.Context, ev RawEvent) (*models.Streamer, error) {
	streamer, err := a.repo.FindStreamerByPlatformUser(ctx, ev.Platform, ev.BroadcasterUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, uerr := a.unresolved(ctx, ev, "unknown_broadcaster")
			return nil, uerr
		}
		a.metrics.RecordIngest(ev.EventType, "error")
		return nil, storeError("resolve streamer", err)
	}
	if !streamer.Approved {
		_, uerr := a.unresolved(ctx, ev, "streamer_not_approved")
		return nil, uerr
	}
	return streamer, nil
}

func (a *App) unresolved(ctx context.Context, ev RawEvent, reason string) (IngestResult, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return IngestResult{}, fmt.Errorf("marshal unresolved event: %w", err)
	}

	record := models.UnresolvedEvent{
		ID:             uuid.New(),
		Platform:       ev.Platform,
		EventID:        ev.EventID,
		EventType:      ev.EventType,
		PlatformUserID: ev.BroadcasterUserID,
		Reason:         reason,
		Payload:        payload,
		ReceivedAt:     a.clock.Now(),
	}
	if err := a.repo.RecordUnresolvedEvent(ctx, record); err != nil {
		a.metrics.RecordIngest(ev.EventType, "error")
		return IngestResult{}, storeError("record unresolved event", err)
	}

	a.metrics.RecordIngest(ev.EventType, ReasonUnresolvedStreamer)
	log.Warn().
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Str("platform", ev.Platform).
		Str("broadcaster_user_id", ev.BroadcasterUserID).
		Str("reason", reason).
		Msg("platform event could not be resolved to a streamer")

	return IngestResult{Reason: ReasonUnresolvedStreamer}, fmt.Errorf("%w: %s", ErrUnresolvedStreamer, reason)
}
