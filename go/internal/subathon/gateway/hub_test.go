package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
)

type stubSnapshots struct {
	mu      sync.Mutex
	version int64
	err     error
	// during runs while the snapshot is being loaded
	during func()
}

func (s *stubSnapshots) GetSnapshot(ctx context.Context, streamerID uuid.UUID, verify bool) (*models.Snapshot, error) {
	if s.during != nil {
		s.during()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &models.Snapshot{
		Subathon: &models.Subathon{StreamerID: streamerID, Version: s.version},
		Version:  s.version,
	}, nil
}

func envelope(t *testing.T, streamerID uuid.UUID, version int64) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(streamerID, events.TypeStateChange, version, time.Now(), events.StateChangePayload{})
	require.NoError(t, err)
	return env
}

func drain(sub *Subscription) []events.Envelope {
	var out []events.Envelope
	for {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func versions(envs []events.Envelope) []int64 {
	out := make([]int64, len(envs))
	for i, env := range envs {
		out[i] = env.Version
	}
	return out
}

func TestHub_SnapshotThenNewerDeltas(t *testing.T) {
	streamerID := uuid.New()
	snaps := &stubSnapshots{version: 5}
	hub := NewHub(snaps, DefaultHubConfig(), nil)

	sub, err := hub.Subscribe(context.Background(), streamerID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sub.Snapshot.Version)

	hub.Broadcast([]events.Envelope{
		envelope(t, streamerID, 4),
		envelope(t, streamerID, 5),
		envelope(t, streamerID, 6),
		envelope(t, uuid.New(), 7),
		envelope(t, streamerID, 7),
	})

	assert.Equal(t, []int64{6, 7}, versions(drain(sub)))
}

func TestHub_ChangesDuringSnapshotLoadAreNotLost(t *testing.T) {
	streamerID := uuid.New()
	snaps := &stubSnapshots{version: 10}
	hub := NewHub(snaps, DefaultHubConfig(), nil)

	// commits 10 and 11 land while the snapshot (at version 10) is loading
	snaps.during = func() {
		hub.Broadcast([]events.Envelope{envelope(t, streamerID, 10), envelope(t, streamerID, 11)})
	}

	sub, err := hub.Subscribe(context.Background(), streamerID)
	require.NoError(t, err)

	assert.Equal(t, []int64{11}, versions(drain(sub)))
}

func TestHub_NoDuplicatesOrRegressions(t *testing.T) {
	streamerID := uuid.New()
	hub := NewHub(&stubSnapshots{}, DefaultHubConfig(), nil)

	sub, err := hub.Subscribe(context.Background(), streamerID)
	require.NoError(t, err)

	ledger, err := events.NewEnvelope(streamerID, events.TypeLedgerAppend, 1, time.Now(), events.LedgerAppendPayload{})
	require.NoError(t, err)
	state := envelope(t, streamerID, 1)

	hub.Broadcast([]events.Envelope{ledger, state})
	hub.Broadcast([]events.Envelope{state})                      // redelivered
	hub.Broadcast([]events.Envelope{envelope(t, streamerID, 3)}) // newer
	hub.Broadcast([]events.Envelope{envelope(t, streamerID, 2)}) // late

	got := drain(sub)
	assert.Equal(t, []int64{1, 1, 3}, versions(got))
	assert.Equal(t, events.TypeLedgerAppend, got[0].Type)
	assert.Equal(t, events.TypeStateChange, got[1].Type)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	streamerID := uuid.New()
	hub := NewHub(&stubSnapshots{}, HubConfig{SubscriberBuffer: 2}, nil)

	slow, err := hub.Subscribe(context.Background(), streamerID)
	require.NoError(t, err)

	for v := int64(1); v <= 3; v++ {
		hub.Broadcast([]events.Envelope{envelope(t, streamerID, v)})
	}

	assert.True(t, slow.Dropped())
	assert.Equal(t, []int64{1, 2}, versions(drain(slow)))
	_, open := <-slow.Events()
	assert.False(t, open)
	assert.Empty(t, hub.Stats())

	// a fresh subscription starts over from a snapshot
	again, err := hub.Subscribe(context.Background(), streamerID)
	require.NoError(t, err)
	assert.False(t, again.Dropped())
	assert.Equal(t, 1, hub.Stats()[streamerID.String()])
}

func TestHub_SubscribeFailureUnregisters(t *testing.T) {
	hub := NewHub(&stubSnapshots{err: errors.New("db down")}, DefaultHubConfig(), nil)

	_, err := hub.Subscribe(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Empty(t, hub.Stats())
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	streamerID := uuid.New()
	hub := NewHub(&stubSnapshots{}, DefaultHubConfig(), nil)

	sub, err := hub.Subscribe(context.Background(), streamerID)
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	hub.Broadcast([]events.Envelope{envelope(t, streamerID, 1)})
	assert.Empty(t, hub.Stats())
}

func TestEventConsumer_ProcessMessage(t *testing.T) {
	streamerID := uuid.New()
	hub := NewHub(&stubSnapshots{}, DefaultHubConfig(), nil)
	sub, err := hub.Subscribe(context.Background(), streamerID)
	require.NoError(t, err)

	ec := &EventConsumer{broadcaster: hub}

	data, err := json.Marshal(envelope(t, streamerID, 1))
	require.NoError(t, err)
	require.NoError(t, ec.processMessage(data))
	assert.Equal(t, []int64{1}, versions(drain(sub)))

	assert.Error(t, ec.processMessage([]byte("not json")))

	bad := envelope(t, streamerID, 2)
	bad.Type = events.TypeSnapshot
	data, err = json.Marshal(bad)
	require.NoError(t, err)
	assert.Error(t, ec.processMessage(data))
}
