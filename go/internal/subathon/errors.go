package subathon

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/subathon/go/internal/subathon/store"
	"github.com/mcdev12/subathon/go/internal/subathon/timer"
)

var (
	ErrStreamerNotLive     = errors.New("streamer is not live")
	ErrCooldownActive      = errors.New("click cooldown active")
	ErrInvalidTransition   = timer.ErrInvalidTransition
	ErrUnresolvedStreamer  = errors.New("event could not be resolved to a streamer")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrSubathonNotFound    = errors.New("subathon not found")
	ErrSubathonExists      = errors.New("subathon already exists")
	ErrSubathonEnded       = errors.New("subathon has ended")
	ErrStreamerNotFound    = errors.New("streamer not found")
	ErrStreamerNotApproved = errors.New("streamer is not approved")
	ErrInvalidEvent        = errors.New("invalid platform event")
	ErrInvalidRequest      = errors.New("invalid request")
)

// CooldownError is returned when a player clicks again before their cooldown expires
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("click cooldown active, %s remaining", e.Remaining)
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// storeError maps a storage failure onto the engine's taxonomy
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrSubathonNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		return fmt.Errorf("%s: %w", op, ErrSubathonExists)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}
