package timer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/subathon/go/internal/models"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func newSubathon(initial int64) *models.Subathon {
	settings := models.DefaultSubathonSettings()
	settings.InitialDuration = initial
	return models.NewSubathon(uuid.New(), settings, t0)
}

func TestTransition_PausedTimeDoesNotCount(t *testing.T) {
	s := newSubathon(3600)

	require.NoError(t, Transition(s, models.SubathonStatusLive, t0))
	require.NoError(t, Transition(s, models.SubathonStatusPaused, t0.Add(100*time.Second)))
	require.NoError(t, Transition(s, models.SubathonStatusLive, t0.Add(120*time.Second)))

	now := t0.Add(170 * time.Second)
	assert.Equal(t, int64(150), Elapsed(s, now))
	assert.Equal(t, int64(20), s.TotalPausedDuration)
	assert.Equal(t, int64(3600-150), Remaining(s, now))
}

func TestTransition_ExactlyOneStartMarker(t *testing.T) {
	s := newSubathon(600)

	require.NoError(t, Transition(s, models.SubathonStatusLive, t0))
	assert.NotNil(t, s.StreamStartedAt)
	assert.Nil(t, s.PauseStartedAt)

	require.NoError(t, Transition(s, models.SubathonStatusPaused, t0.Add(time.Minute)))
	assert.Nil(t, s.StreamStartedAt)
	assert.NotNil(t, s.PauseStartedAt)

	require.NoError(t, Transition(s, models.SubathonStatusOffline, t0.Add(2*time.Minute)))
	assert.Nil(t, s.StreamStartedAt)
	assert.Nil(t, s.PauseStartedAt)
	assert.Equal(t, int64(60), s.TotalElapsedTime)
	assert.Equal(t, int64(60), s.TotalPausedDuration)
}

func TestTransition_Rejected(t *testing.T) {
	tests := []struct {
		name string
		from models.SubathonStatus
		to   models.SubathonStatus
	}{
		{"offline to paused", models.SubathonStatusOffline, models.SubathonStatusPaused},
		{"live to live", models.SubathonStatusLive, models.SubathonStatusLive},
		{"offline to offline", models.SubathonStatusOffline, models.SubathonStatusOffline},
		{"ended to live", models.SubathonStatusEnded, models.SubathonStatusLive},
		{"ended to ended", models.SubathonStatusEnded, models.SubathonStatusEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSubathon(60)
			s.Status = tt.from
			if tt.from == models.SubathonStatusLive {
				started := t0
				s.StreamStartedAt = &started
			}
			before := *s

			err := Transition(s, tt.to, t0.Add(time.Second))
			require.ErrorIs(t, err, ErrInvalidTransition)

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
			assert.Equal(t, before, *s)
		})
	}
}

func TestTransition_EndFromAnyActiveStatus(t *testing.T) {
	for _, from := range []models.SubathonStatus{
		models.SubathonStatusOffline,
		models.SubathonStatusLive,
		models.SubathonStatusPaused,
	} {
		assert.True(t, CanTransition(from, models.SubathonStatusEnded), from)
	}
}

func TestRemaining_ClampsAtZero(t *testing.T) {
	s := newSubathon(10)
	require.NoError(t, Transition(s, models.SubathonStatusLive, t0))

	assert.Equal(t, int64(0), Remaining(s, t0.Add(time.Hour)))
}

func TestRemaining_IncludesAddedTime(t *testing.T) {
	s := newSubathon(100)
	require.NoError(t, Transition(s, models.SubathonStatusLive, t0))
	s.TotalTimeAdded += 30

	assert.Equal(t, int64(130-40), Remaining(s, t0.Add(40*time.Second)))
}

func TestDeadline(t *testing.T) {
	s := newSubathon(100)
	_, ok := Deadline(s)
	assert.False(t, ok)

	require.NoError(t, Transition(s, models.SubathonStatusLive, t0))
	require.NoError(t, Transition(s, models.SubathonStatusPaused, t0.Add(40*time.Second)))
	require.NoError(t, Transition(s, models.SubathonStatusLive, t0.Add(100*time.Second)))

	deadline, ok := Deadline(s)
	require.True(t, ok)
	assert.Equal(t, t0.Add(160*time.Second), deadline)
}

func TestTransition_SubSecondIntervalsAreNotLost(t *testing.T) {
	s := newSubathon(3600)

	// ten cycles of 1.9s live and 0.1s paused
	now := t0
	for i := 0; i < 10; i++ {
		require.NoError(t, Transition(s, models.SubathonStatusLive, now))
		now = now.Add(1900 * time.Millisecond)
		require.NoError(t, Transition(s, models.SubathonStatusPaused, now))
		now = now.Add(100 * time.Millisecond)
	}

	assert.Equal(t, int64(19), Elapsed(s, now))
	assert.Equal(t, int64(19), s.TotalElapsedTime)
	assert.Zero(t, s.ElapsedCarry)
	// the last pause is still open
	assert.Equal(t, int64(0), s.TotalPausedDuration)
	assert.Equal(t, 900*time.Millisecond, s.PausedCarry)
	assert.Equal(t, int64(3600-19), Remaining(s, now))
}

func TestElapsed_IndependentOfCycleCount(t *testing.T) {
	continuous := newSubathon(3600)
	require.NoError(t, Transition(continuous, models.SubathonStatusLive, t0))
	require.NoError(t, Transition(continuous, models.SubathonStatusOffline, t0.Add(37*time.Second)))

	for _, cycles := range []int{1, 3, 7, 37, 100} {
		s := newSubathon(3600)
		live := 37 * time.Second / time.Duration(cycles)
		leftover := 37*time.Second - live*time.Duration(cycles)
		now := t0
		for i := 0; i < cycles; i++ {
			require.NoError(t, Transition(s, models.SubathonStatusLive, now))
			now = now.Add(live)
			if i == cycles-1 {
				now = now.Add(leftover)
			}
			require.NoError(t, Transition(s, models.SubathonStatusPaused, now))
			now = now.Add(333 * time.Millisecond)
		}
		assert.Equal(t, Elapsed(continuous, now), Elapsed(s, now), "cycles=%d", cycles)
	}
}

func TestDeadline_AccountsForCarriedFraction(t *testing.T) {
	s := newSubathon(10)
	require.NoError(t, Transition(s, models.SubathonStatusLive, t0))
	require.NoError(t, Transition(s, models.SubathonStatusPaused, t0.Add(2500*time.Millisecond)))
	require.NoError(t, Transition(s, models.SubathonStatusLive, t0.Add(5*time.Second)))

	deadline, ok := Deadline(s)
	require.True(t, ok)
	// 7.5s of budget left when going live again
	assert.Equal(t, t0.Add(12500*time.Millisecond), deadline)
	assert.Equal(t, int64(1), Remaining(s, deadline.Add(-time.Millisecond)))
	assert.True(t, Settle(s, deadline))
	assert.Equal(t, deadline, *s.EndedAt)
	assert.Zero(t, s.ElapsedCarry)
}

func TestSettle(t *testing.T) {
	s := newSubathon(60)
	require.NoError(t, Transition(s, models.SubathonStatusLive, t0))

	assert.False(t, Settle(s, t0.Add(59*time.Second)))
	assert.Equal(t, models.SubathonStatusLive, s.Status)

	assert.True(t, Settle(s, t0.Add(75*time.Second)))
	assert.Equal(t, models.SubathonStatusEnded, s.Status)
	assert.Equal(t, int64(60), s.TotalElapsedTime)
	assert.Equal(t, int64(0), Remaining(s, t0.Add(2*time.Hour)))
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, t0.Add(60*time.Second), *s.EndedAt)
	assert.Nil(t, s.StreamStartedAt)
}

func TestSettle_IgnoresNonLive(t *testing.T) {
	s := newSubathon(0)
	assert.False(t, Settle(s, t0))

	require.NoError(t, Transition(s, models.SubathonStatusLive, t0))
	require.NoError(t, Transition(s, models.SubathonStatusPaused, t0))
	assert.False(t, Settle(s, t0.Add(time.Hour)))
	assert.Equal(t, models.SubathonStatusPaused, s.Status)
}
