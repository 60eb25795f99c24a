package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubathonStatus represents where a streamer's timer is in its lifecycle
type SubathonStatus string

const (
	SubathonStatusLive    SubathonStatus = "live"
	SubathonStatusPaused  SubathonStatus = "paused"
	SubathonStatusOffline SubathonStatus = "offline"
	SubathonStatusEnded   SubathonStatus = "ended"
)

// IsValid reports whether s is one of the known statuses
func (s SubathonStatus) IsValid() bool {
	switch s {
	case SubathonStatusLive, SubathonStatusPaused, SubathonStatusOffline, SubathonStatusEnded:
		return true
	}
	return false
}

// TimeMode controls how much time a completed click quota awards
type TimeMode string

const (
	TimeModeFixed  TimeMode = "fixed"
	TimeModeRandom TimeMode = "random"
)

// Subathon is the per-streamer timer state. Durations are whole seconds; the
// carry fields hold the sub-second remainder of the banked totals.
type Subathon struct {
	StreamerID uuid.UUID      `json:"streamer_id"`
	Status     SubathonStatus `json:"status"`

	CurrentClicks   int `json:"current_clicks"`
	ClicksRequired  int `json:"clicks_required"`
	CooldownSeconds int `json:"cooldown_seconds"`

	TimeMode      TimeMode `json:"time_mode"`
	TimeIncrement int      `json:"time_increment"`
	MinRandomTime int      `json:"min_random_time"`
	MaxRandomTime int      `json:"max_random_time"`

	InitialDuration     int64 `json:"initial_duration"`
	TotalElapsedTime    int64 `json:"total_elapsed_time"`
	TotalTimeAdded      int64 `json:"total_time_added"`
	TotalPausedDuration int64 `json:"total_paused_duration"`

	ElapsedCarry time.Duration `json:"-"`
	PausedCarry  time.Duration `json:"-"`

	StreamStartedAt *time.Time `json:"stream_started_at,omitempty"`
	PauseStartedAt  *time.Time `json:"pause_started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`

	// Version increases by one on every committed mutation.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (s *Subathon) Clone() *Subathon {
	if s == nil {
		return nil
	}
	c := *s
	c.StreamStartedAt = cloneTime(s.StreamStartedAt)
	c.PauseStartedAt = cloneTime(s.PauseStartedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	return &c
}

// Settings extracts the configurable part of the subathon
func (s *Subathon) Settings() SubathonSettings {
	return SubathonSettings{
		ClicksRequired:  s.ClicksRequired,
		CooldownSeconds: s.CooldownSeconds,
		TimeMode:        s.TimeMode,
		TimeIncrement:   s.TimeIncrement,
		MinRandomTime:   s.MinRandomTime,
		MaxRandomTime:   s.MaxRandomTime,
		InitialDuration: s.InitialDuration,
	}
}

// ApplySettings copies settings onto the subathon. Initial duration is only
// applied while the timer has not started.
func (s *Subathon) ApplySettings(settings SubathonSettings) {
	s.ClicksRequired = settings.ClicksRequired
	s.CooldownSeconds = settings.CooldownSeconds
	s.TimeMode = settings.TimeMode
	s.TimeIncrement = settings.TimeIncrement
	s.MinRandomTime = settings.MinRandomTime
	s.MaxRandomTime = settings.MaxRandomTime
	if s.TotalElapsedTime == 0 && s.ElapsedCarry == 0 && s.StreamStartedAt == nil {
		s.InitialDuration = settings.InitialDuration
	}
	if s.CurrentClicks >= s.ClicksRequired {
		s.CurrentClicks = 0
	}
}

// SubathonSettings is the streamer-configurable part of a subathon
type SubathonSettings struct {
	ClicksRequired  int      `json:"clicks_required" yaml:"clicks_required"`
	CooldownSeconds int      `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	TimeMode        TimeMode `json:"time_mode" yaml:"time_mode"`
	TimeIncrement   int      `json:"time_increment" yaml:"time_increment"`
	MinRandomTime   int      `json:"min_random_time" yaml:"min_random_time"`
	MaxRandomTime   int      `json:"max_random_time" yaml:"max_random_time"`
	InitialDuration int64    `json:"initial_duration" yaml:"initial_duration"`
}

// DefaultSubathonSettings returns the settings new subathons start with
func DefaultSubathonSettings() SubathonSettings {
	return SubathonSettings{
		ClicksRequired:  100,
		CooldownSeconds: 5,
		TimeMode:        TimeModeFixed,
		TimeIncrement:   30,
		MinRandomTime:   10,
		MaxRandomTime:   60,
		InitialDuration: 3600,
	}
}

// ErrInvalidSettings is returned by Validate
var ErrInvalidSettings = errors.New("invalid subathon settings")

// Validate checks the settings are internally consistent
func (s SubathonSettings) Validate() error {
	if s.ClicksRequired < 1 {
		return fmt.Errorf("%w: clicks_required must be at least 1", ErrInvalidSettings)
	}
	if s.CooldownSeconds < 0 {
		return fmt.Errorf("%w: cooldown_seconds must not be negative", ErrInvalidSettings)
	}
	if s.InitialDuration < 0 {
		return fmt.Errorf("%w: initial_duration must not be negative", ErrInvalidSettings)
	}
	switch s.TimeMode {
	case TimeModeFixed:
		if s.TimeIncrement < 1 {
			return fmt.Errorf("%w: time_increment must be at least 1", ErrInvalidSettings)
		}
	case TimeModeRandom:
		if s.MaxRandomTime < 1 {
			return fmt.Errorf("%w: max_random_time must be at least 1", ErrInvalidSettings)
		}
		if s.MinRandomTime > s.MaxRandomTime {
			return fmt.Errorf("%w: min_random_time exceeds max_random_time", ErrInvalidSettings)
		}
	default:
		return fmt.Errorf("%w: unknown time_mode %q", ErrInvalidSettings, s.TimeMode)
	}
	return nil
}

// NewSubathon builds an offline subathon for a streamer
func NewSubathon(streamerID uuid.UUID, settings SubathonSettings, now time.Time) *Subathon {
	s := &Subathon{
		StreamerID: streamerID,
		Status:     SubathonStatusOffline,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.ApplySettings(settings)
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
