package eventsub

import (
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/subathon/go/internal/subathon"
)

var sentAt = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func signedHeaders(v *Verifier, msgType, id string, body []byte) http.Header {
	ts := sentAt.Format(time.RFC3339Nano)
	h := http.Header{}
	h.Set(HeaderMessageID, id)
	h.Set(HeaderMessageTimestamp, ts)
	h.Set(HeaderMessageType, msgType)
	h.Set(HeaderMessageSignature, v.Sign(id, ts, body))
	return h
}

func TestVerifier_Verify(t *testing.T) {
	clock := clockwork.NewFakeClockAt(sentAt.Add(time.Minute))
	v := NewVerifier("s3cret", clock)
	body := []byte(`{"subscription":{"type":"channel.cheer"},"event":{"bits":100}}`)

	h := signedHeaders(v, MessageTypeNotification, "msg-1", body)
	require.NoError(t, v.Verify(h, body))

	t.Run("tampered body", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(h, []byte(`{"event":{"bits":100000}}`)), ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewVerifier("other", clock)
		assert.ErrorIs(t, other.Verify(h, body), ErrInvalidSignature)
	})

	t.Run("missing headers", func(t *testing.T) {
		bare := http.Header{}
		bare.Set(HeaderMessageID, "msg-1")
		assert.ErrorIs(t, v.Verify(bare, body), ErrMissingHeaders)
	})

	t.Run("replayed after window", func(t *testing.T) {
		clock.Advance(DefaultMaxMessageAge)
		assert.ErrorIs(t, v.Verify(h, body), ErrStaleMessage)
	})
}

func TestParseMessage_Verification(t *testing.T) {
	v := NewVerifier("s3cret", nil)
	body := []byte(`{"challenge":"pogchamp-kappa-360noscope","subscription":{"id":"sub-1","type":"channel.cheer","status":"webhook_callback_verification_pending"}}`)

	msg, err := ParseMessage(signedHeaders(v, MessageTypeVerification, "msg-2", body), body)
	require.NoError(t, err)
	assert.Equal(t, "pogchamp-kappa-360noscope", msg.Challenge)
	assert.Equal(t, "channel.cheer", msg.Subscription.Type)

	_, err = ParseMessage(signedHeaders(v, MessageTypeVerification, "msg-3", []byte(`{}`)), []byte(`{}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseMessage_UnknownType(t *testing.T) {
	v := NewVerifier("s3cret", nil)
	body := []byte(`{}`)
	_, err := ParseMessage(signedHeaders(v, "mystery", "msg-4", body), body)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMessage_RawEvent(t *testing.T) {
	v := NewVerifier("s3cret", nil)

	tests := []struct {
		name    string
		body    string
		want    subathon.RawEvent
		wantErr error
	}{
		{
			name: "subscribe",
			body: `{"subscription":{"type":"channel.subscribe"},"event":{"user_login":"viewer1","broadcaster_user_id":"1337","tier":"2000","is_gift":false}}`,
			want: subathon.RawEvent{EventType: "channel.subscribe", BroadcasterUserID: "1337", UserLogin: "viewer1", Tier: "2000"},
		},
		{
			name:    "gift recipient copy",
			body:    `{"subscription":{"type":"channel.subscribe"},"event":{"user_login":"lucky","broadcaster_user_id":"1337","tier":"1000","is_gift":true}}`,
			wantErr: ErrIgnored,
		},
		{
			name: "anonymous cheer",
			body: `{"subscription":{"type":"channel.cheer"},"event":{"is_anonymous":true,"user_login":null,"broadcaster_user_id":"1337","bits":250}}`,
			want: subathon.RawEvent{EventType: "channel.cheer", BroadcasterUserID: "1337", Bits: 250, IsAnonymous: true},
		},
		{
			name: "gift",
			body: `{"subscription":{"type":"channel.subscription.gift"},"event":{"user_login":"gifter","broadcaster_user_id":"1337","total":5,"tier":"1000","is_anonymous":false}}`,
			want: subathon.RawEvent{EventType: "channel.subscription.gift", BroadcasterUserID: "1337", UserLogin: "gifter", Tier: "1000", Total: 5},
		},
		{
			name: "stream online falls back to condition",
			body: `{"subscription":{"type":"stream.online","condition":{"broadcaster_user_id":"1337"}},"event":{"id":"9001","type":"live"}}`,
			want: subathon.RawEvent{EventType: "stream.online", BroadcasterUserID: "1337"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(tt.body)
			msg, err := ParseMessage(signedHeaders(v, MessageTypeNotification, "msg-"+tt.name, body), body)
			require.NoError(t, err)

			got, err := msg.RawEvent()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "msg-"+tt.name, got.EventID)
			assert.Equal(t, Platform, got.Platform)
			assert.Equal(t, sentAt, got.OccurredAt)
			assert.NotEmpty(t, got.Data)

			got.EventID, got.Platform, got.OccurredAt, got.Data = "", "", time.Time{}, nil
			assert.Equal(t, tt.want, got)
		})
	}
}
