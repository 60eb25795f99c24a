// Package timer implements the subathon countdown state machine.
//
// Every function here is a pure computation over the stored subathon fields
// and a caller-supplied clock reading, so any observer holding the same row
// derives the same remaining time.
package timer

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/subathon/go/internal/models"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected status change
type TransitionError struct {
	From models.SubathonStatus
	To   models.SubathonStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// allowed lists the legal moves. ended is reachable from every other status.
var allowed = map[models.SubathonStatus][]models.SubathonStatus{
	models.SubathonStatusOffline: {models.SubathonStatusLive, models.SubathonStatusEnded},
	models.SubathonStatusLive:    {models.SubathonStatusPaused, models.SubathonStatusOffline, models.SubathonStatusEnded},
	models.SubathonStatusPaused:  {models.SubathonStatusLive, models.SubathonStatusOffline, models.SubathonStatusEnded},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to models.SubathonStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves s to the target status at now, updating the elapsed and
// paused bookkeeping. s is left untouched when the move is rejected.
func Transition(s *models.Subathon, to models.SubathonStatus, now time.Time) error {
	from := s.Status
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}

	switch from {
	case models.SubathonStatusLive:
		bank(&s.TotalElapsedTime, &s.ElapsedCarry, now.Sub(*s.StreamStartedAt))
		s.StreamStartedAt = nil
	case models.SubathonStatusPaused:
		bank(&s.TotalPausedDuration, &s.PausedCarry, now.Sub(*s.PauseStartedAt))
		s.PauseStartedAt = nil
	}

	switch to {
	case models.SubathonStatusLive:
		started := now
		s.StreamStartedAt = &started
	case models.SubathonStatusPaused:
		paused := now
		s.PauseStartedAt = &paused
	case models.SubathonStatusEnded:
		ended := now
		s.EndedAt = &ended
	}

	s.Status = to
	return nil
}

// Budget is the total number of seconds the timer may run for
func Budget(s *models.Subathon) int64 {
	return s.InitialDuration + s.TotalTimeAdded
}

// Elapsed returns the whole seconds the timer has been running. Only live
// time counts; the fraction banked from earlier intervals is included before
// rounding down.
func Elapsed(s *models.Subathon, now time.Time) int64 {
	elapsed := s.TotalElapsedTime
	if s.Status == models.SubathonStatusLive && s.StreamStartedAt != nil {
		elapsed += seconds(s.ElapsedCarry + now.Sub(*s.StreamStartedAt))
	}
	return elapsed
}

// Remaining returns max(0, initial + added - elapsed)
func Remaining(s *models.Subathon, now time.Time) int64 {
	remaining := Budget(s) - Elapsed(s, now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Deadline returns the instant a live timer reaches zero
func Deadline(s *models.Subathon) (time.Time, bool) {
	if s.Status != models.SubathonStatusLive || s.StreamStartedAt == nil {
		return time.Time{}, false
	}
	left := Budget(s) - s.TotalElapsedTime
	if left < 0 {
		left = 0
	}
	return s.StreamStartedAt.Add(time.Duration(left)*time.Second - s.ElapsedCarry), true
}

// Settle ends a live subathon whose remaining time has run out. The stored
// elapsed time is clamped to the budget so remaining reads exactly zero, and
// EndedAt is the instant the timer actually hit zero. It reports whether the
// subathon ended.
func Settle(s *models.Subathon, now time.Time) bool {
	if s.Status != models.SubathonStatusLive || Remaining(s, now) > 0 {
		return false
	}

	endedAt := now
	if deadline, ok := Deadline(s); ok && deadline.Before(now) {
		endedAt = deadline
	}

	s.TotalElapsedTime = Budget(s)
	s.ElapsedCarry = 0
	s.StreamStartedAt = nil
	s.Status = models.SubathonStatusEnded
	s.EndedAt = &endedAt
	return true
}

// bank adds d to a whole-second total and keeps the sub-second remainder in
// carry, so splitting an interval never loses time
func bank(total *int64, carry *time.Duration, d time.Duration) {
	if d < 0 {
		d = 0
	}
	d += *carry
	*total += int64(d / time.Second)
	*carry = d % time.Second
}

func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
