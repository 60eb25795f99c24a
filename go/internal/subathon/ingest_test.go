package subathon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/subathon/go/internal/models"
)

func subscribeEvent(id string) RawEvent {
	return RawEvent{
		EventID:           id,
		EventType:         string(models.EventTypeSubscribe),
		BroadcasterUserID: "141981764",
		UserLogin:         "some_viewer",
		Tier:              "1000",
		OccurredAt:        t0,
	}
}

func TestIngest_AddsPolicyTime(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()
	h.goLive(t)

	res, err := h.app.Ingest(ctx, subscribeEvent("E1"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(300), res.Seconds)
	require.NotNil(t, res.Addition)
	require.NotNil(t, res.Addition.ExternalEventID)
	assert.Equal(t, "E1", *res.Addition.ExternalEventID)
	assert.Equal(t, models.EventTypeSubscribe, res.Addition.EventType)
	require.NotNil(t, res.Addition.PlayerIdentity)
	assert.Equal(t, "some_viewer", *res.Addition.PlayerIdentity)

	assert.Equal(t, int64(300), h.subathon(t).TotalTimeAdded)
}

func TestIngest_DuplicateDeliveryIsNoop(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()
	h.goLive(t)

	_, err := h.app.Ingest(ctx, subscribeEvent("E1"))
	require.NoError(t, err)
	version := h.subathon(t).Version
	broadcasts := len(h.broadcast.all())

	res, err := h.app.Ingest(ctx, subscribeEvent("E1"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Duplicate)
	assert.Equal(t, ReasonDuplicate, res.Reason)

	sub := h.subathon(t)
	assert.Equal(t, int64(300), sub.TotalTimeAdded)
	assert.Equal(t, version, sub.Version)
	assert.Len(t, h.broadcast.all(), broadcasts)

	additions, err := h.app.ListAdditions(ctx, h.streamerID, 10)
	require.NoError(t, err)
	assert.Len(t, additions, 1)
}

func TestIngest_UnresolvedStreamer(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()
	h.goLive(t)

	ev := subscribeEvent("E2")
	ev.BroadcasterUserID = "unknown"
	res, err := h.app.Ingest(ctx, ev)
	require.ErrorIs(t, err, ErrUnresolvedStreamer)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonUnresolvedStreamer, res.Reason)

	pending, err := h.app.ListUnresolvedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "E2", pending[0].EventID)
	assert.Equal(t, "unknown", pending[0].PlatformUserID)
	assert.Equal(t, "unknown_broadcaster", pending[0].Reason)

	assert.Zero(t, h.subathon(t).TotalTimeAdded)
}

func TestIngest_NotLive(t *testing.T) {
	h := newHarness(t, testSettings())

	res, err := h.app.Ingest(context.Background(), subscribeEvent("E3"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonStreamerNotLive, res.Reason)
	assert.Zero(t, h.subathon(t).TotalTimeAdded)
}

func TestIngest_CheerAndGift(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()
	h.goLive(t)

	cheer := RawEvent{EventID: "C1", EventType: string(models.EventTypeCheer), BroadcasterUserID: "141981764", Bits: 250}
	res, err := h.app.Ingest(ctx, cheer)
	require.NoError(t, err)
	assert.Equal(t, int64(120), res.Seconds)

	gift := RawEvent{EventID: "G1", EventType: string(models.EventTypeSubscriptionGift), BroadcasterUserID: "141981764", Tier: "1000", Total: 5, IsAnonymous: true, UserLogin: "ananonymousgifter"}
	res, err = h.app.Ingest(ctx, gift)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.Seconds)
	assert.Nil(t, res.Addition.PlayerIdentity)

	small := RawEvent{EventID: "C2", EventType: string(models.EventTypeCheer), BroadcasterUserID: "141981764", Bits: 50}
	res, err = h.app.Ingest(ctx, small)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, ReasonBelowThreshold, res.Reason)

	assert.Equal(t, int64(1620), h.subathon(t).TotalTimeAdded)
}

func TestIngest_UnsupportedAndInvalid(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	res, err := h.app.Ingest(ctx, RawEvent{EventID: "F1", EventType: "channel.follow", BroadcasterUserID: "141981764"})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonUnsupportedType, res.Reason)

	_, err = h.app.Ingest(ctx, RawEvent{EventType: string(models.EventTypeSubscribe), BroadcasterUserID: "141981764"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestIngest_StreamLifecycle(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	online := RawEvent{EventID: "O1", EventType: EventTypeStreamOnline, BroadcasterUserID: "141981764"}
	res, err := h.app.Ingest(ctx, online)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, models.SubathonStatusLive, h.subathon(t).Status)

	// redelivery is a duplicate
	res, err = h.app.Ingest(ctx, online)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Duplicate)

	// a second online notification while already live changes nothing
	res, err = h.app.Ingest(ctx, RawEvent{EventID: "O1b", EventType: EventTypeStreamOnline, BroadcasterUserID: "141981764"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Duplicate)
	assert.Equal(t, ReasonNoTransition, res.Reason)

	h.clock.Advance(90 * time.Second)
	offline := RawEvent{EventID: "O2", EventType: EventTypeStreamOffline, BroadcasterUserID: "141981764"}
	_, err = h.app.Ingest(ctx, offline)
	require.NoError(t, err)

	sub := h.subathon(t)
	assert.Equal(t, models.SubathonStatusOffline, sub.Status)
	assert.Equal(t, int64(90), sub.TotalElapsedTime)
}

func TestIngest_LifecycleRedeliveryAfterPause(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	online := RawEvent{EventID: "ON1", EventType: EventTypeStreamOnline, BroadcasterUserID: "141981764"}
	_, err := h.app.Ingest(ctx, online)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	_, err = h.app.Transition(ctx, h.streamerID, models.SubathonStatusPaused, "streamer")
	require.NoError(t, err)
	version := h.subathon(t).Version

	res, err := h.app.Ingest(ctx, online)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Duplicate)

	sub := h.subathon(t)
	assert.Equal(t, models.SubathonStatusPaused, sub.Status)
	assert.Equal(t, version, sub.Version)
}

func TestIngest_LateOfflineDoesNotEndNextSession(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	offline := RawEvent{EventID: "OFF1", EventType: EventTypeStreamOffline, BroadcasterUserID: "141981764"}
	h.goLive(t)
	_, err := h.app.Ingest(ctx, offline)
	require.NoError(t, err)

	_, err = h.app.Ingest(ctx, RawEvent{EventID: "ON2", EventType: EventTypeStreamOnline, BroadcasterUserID: "141981764"})
	require.NoError(t, err)

	res, err := h.app.Ingest(ctx, offline)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, models.SubathonStatusLive, h.subathon(t).Status)
}

func TestIngest_DuplicateReportedWhateverStatus(t *testing.T) {
	for _, status := range []models.SubathonStatus{
		models.SubathonStatusOffline,
		models.SubathonStatusPaused,
		models.SubathonStatusEnded,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, testSettings())
			ctx := context.Background()
			h.goLive(t)

			_, err := h.app.Ingest(ctx, subscribeEvent("E1"))
			require.NoError(t, err)
			_, err = h.app.Transition(ctx, h.streamerID, status, "test")
			require.NoError(t, err)

			res, err := h.app.Ingest(ctx, subscribeEvent("E1"))
			require.NoError(t, err)
			assert.True(t, res.Accepted)
			assert.True(t, res.Duplicate)
			assert.Equal(t, ReasonDuplicate, res.Reason)
			assert.Equal(t, int64(300), h.subathon(t).TotalTimeAdded)
		})
	}
}

func TestIngest_ConcurrentRedeliveryCountsOnce(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()
	h.goLive(t)

	const deliveries = 20
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int
		duplicates int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.app.Ingest(ctx, subscribeEvent("E-race"))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if res.Duplicate {
				duplicates++
			} else if res.Accepted {
				accepted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, deliveries-1, duplicates)
	assert.Equal(t, int64(300), h.subathon(t).TotalTimeAdded)

	additions, err := h.app.ListAdditions(ctx, h.streamerID, 50)
	require.NoError(t, err)
	assert.Len(t, additions, 1)
}

func TestIngest_UnresolvedRedeliveryRecordedOnce(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	ev := subscribeEvent("E-lost")
	ev.BroadcasterUserID = "unknown"
	for i := 0; i < 3; i++ {
		_, err := h.app.Ingest(ctx, ev)
		require.ErrorIs(t, err, ErrUnresolvedStreamer)
	}

	pending, err := h.app.ListUnresolvedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
