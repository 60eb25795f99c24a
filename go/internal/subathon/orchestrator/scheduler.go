package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// scheduleAt arms a one-shot timer for the streamer at deadline, replacing
// any earlier timer. Scheduling the same deadline twice is a no-op.
func (o *Orchestrator) scheduleAt(streamerID uuid.UUID, deadline time.Time) {
	o.activeTimersMu.Lock()
	if last, ok := o.deadlines[streamerID]; ok && last.Equal(deadline) {
		o.activeTimersMu.Unlock()
		return
	}
	select {
	case <-o.done:
		o.activeTimersMu.Unlock()
		return
	default:
	}

	duration := deadline.Sub(o.clock.Now())
	if duration < 0 {
		duration = 0
	}
	t := o.clock.NewTimer(duration)
	if existing, ok := o.activeTimers[streamerID]; ok {
		stopAndDrainTimer(existing)
	}
	o.activeTimers[streamerID] = t
	o.deadlines[streamerID] = deadline
	o.activeTimersMu.Unlock()

	go o.await(streamerID, t)

	log.Debug().
		Str("streamer_id", streamerID.String()).
		Time("deadline", deadline).
		Dur("duration", duration).
		Msg("scheduled end timer")
}

func (o *Orchestrator) await(streamerID uuid.UUID, t clockwork.Timer) {
	select {
	case <-t.Chan():
		if !o.removeTimer(streamerID, t) {
			// replaced or cancelled after it fired
			return
		}
		select {
		case o.workCh <- streamerID:
		default:
			log.Warn().Str("streamer_id", streamerID.String()).Msg("timer fired but work channel full, retrying")
			o.scheduleAt(streamerID, o.clock.Now().Add(o.retryDelay))
		}
	case <-o.done:
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// cancelTimer cancels and removes the streamer's timer, if any
func (o *Orchestrator) cancelTimer(streamerID uuid.UUID) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	if t, ok := o.activeTimers[streamerID]; ok {
		stopAndDrainTimer(t)
		delete(o.activeTimers, streamerID)
		log.Debug().Str("streamer_id", streamerID.String()).Msg("cancelled end timer")
	}
	delete(o.deadlines, streamerID)
}

// removeTimer forgets a fired timer. It reports false when t is no longer the
// streamer's current timer.
func (o *Orchestrator) removeTimer(streamerID uuid.UUID, t clockwork.Timer) bool {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	if o.activeTimers[streamerID] != t {
		return false
	}
	delete(o.activeTimers, streamerID)
	delete(o.deadlines, streamerID)
	return true
}

// Pending returns how many end timers are armed
func (o *Orchestrator) Pending() int {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	return len(o.activeTimers)
}
