package subathon

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/metrics"
	"github.com/mcdev12/subathon/go/internal/models"
)

// ClickResult is the outcome of one mini-game click
type ClickResult struct {
	Accepted          bool                 `json:"accepted"`
	CurrentClicks     int                  `json:"current_clicks"`
	ClicksRequired    int                  `json:"clicks_required"`
	CooldownRemaining *int64               `json:"cooldown_remaining,omitempty"`
	Reward            *models.TimeAddition `json:"reward,omitempty"`
	Version           int64                `json:"version"`
}

// DefaultRewardDrawer awards the fixed increment, or a uniform draw from
// [max(1, min_random_time), max_random_time] in random mode
type DefaultRewardDrawer struct{}

func (DefaultRewardDrawer) Draw(s *models.Subathon) int64 {
	if s.TimeMode != models.TimeModeRandom {
		return int64(s.TimeIncrement)
	}
	lo := max(1, s.MinRandomTime)
	hi := max(lo, s.MaxRandomTime)
	return int64(lo + rand.Intn(hi-lo+1))
}

// RegisterClick counts one click from playerIdentity. The click that reaches
// the quota resets the counter and appends exactly one minigame_win row.
func (a *App) RegisterClick(ctx context.Context, streamerID uuid.UUID, playerIdentity string) (ClickResult, error) {
	playerIdentity = strings.TrimSpace(playerIdentity)
	if playerIdentity == "" {
		return ClickResult{}, fmt.Errorf("%w: player identity is required", ErrInvalidRequest)
	}

	var reward *models.TimeAddition
	m, err := a.mutate(ctx, streamerID, "register click", func(m *mutation) error {
		m.settle()
		if m.sub.Status != models.SubathonStatusLive {
			m.reject = ErrStreamerNotLive
			return nil
		}

		if m.sub.CooldownSeconds > 0 {
			last, err := m.tx.LastClickAt(ctx, playerIdentity)
			if err != nil {
				return fmt.Errorf("load last click: %w", err)
			}
			if last != nil {
				cooldown := time.Duration(m.sub.CooldownSeconds) * time.Second
				if since := m.now.Sub(*last); since < cooldown {
					m.reject = &CooldownError{Remaining: cooldown - since}
					return nil
				}
			}
		}

		if err := m.tx.SaveClick(ctx, playerIdentity, m.now); err != nil {
			return fmt.Errorf("save click: %w", err)
		}

		m.sub.CurrentClicks++
		m.changed = true
		m.reason = "click"
		if m.sub.CurrentClicks < m.sub.ClicksRequired {
			return nil
		}

		m.sub.CurrentClicks = 0
		player := playerIdentity
		addition := models.TimeAddition{
			ID:             uuid.New(),
			StreamerID:     streamerID,
			EventType:      models.EventTypeMinigameWin,
			TimeSeconds:    a.drawer.Draw(m.sub),
			PlayerIdentity: &player,
			CreatedAt:      m.now,
		}
		if _, err := m.appendAndRecompute(addition); err != nil {
			return err
		}
		m.reason = "minigame_win"
		reward = &addition
		return nil
	})
	if err != nil {
		a.metrics.RecordClick(metrics.ClickFailed)
		return ClickResult{}, err
	}

	result := ClickResult{
		Accepted:       m.reject == nil,
		CurrentClicks:  m.sub.CurrentClicks,
		ClicksRequired: m.sub.ClicksRequired,
		Reward:         reward,
		Version:        m.sub.Version,
	}

	var cooldownErr *CooldownError
	switch {
	case m.reject == nil:
		a.metrics.RecordClick(metrics.ClickAccepted)
	case errors.As(m.reject, &cooldownErr):
		secs := int64((cooldownErr.Remaining + time.Second - 1) / time.Second)
		result.CooldownRemaining = &secs
		a.metrics.RecordClick(metrics.ClickCooldown)
		return result, m.reject
	default:
		a.metrics.RecordClick(metrics.ClickNotLive)
		return result, m.reject
	}

	if reward != nil {
		log.Info().
			Str("streamer_id", streamerID.String()).
			Str("player", playerIdentity).
			Int64("seconds", reward.TimeSeconds).
			Int64("version", m.sub.Version).
			Msg("click quota reached, time added")
	}

	return result, nil
}
