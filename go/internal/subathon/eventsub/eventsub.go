// Package eventsub verifies and decodes Twitch EventSub webhook deliveries.
package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon"
)

const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"

	MessageTypeNotification = "notification"
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeRevocation   = "revocation"

	Platform = "twitch"

	signaturePrefix = "sha256="
)

// DefaultMaxMessageAge is how old a delivery may be before it is treated as a replay
const DefaultMaxMessageAge = 10 * time.Minute

var (
	ErrMissingHeaders   = errors.New("missing eventsub headers")
	ErrInvalidSignature = errors.New("invalid eventsub signature")
	ErrStaleMessage     = errors.New("eventsub message too old")
	ErrMalformed        = errors.New("malformed eventsub message")
	// ErrIgnored marks a well-formed notification that never carries time
	ErrIgnored = errors.New("eventsub notification ignored")
)

// Verifier checks the HMAC-SHA256 signature Twitch puts on every delivery
type Verifier struct {
	secret []byte
	clock  clockwork.Clock
	maxAge time.Duration
}

func NewVerifier(secret string, clock clockwork.Clock) *Verifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Verifier{
		secret: []byte(secret),
		clock:  clock,
		maxAge: DefaultMaxMessageAge,
	}
}

// Sign returns the signature header value for a delivery
func (v *Verifier) Sign(messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature over message id, timestamp and body, and
// rejects deliveries older than the replay window
func (v *Verifier) Verify(h http.Header, body []byte) error {
	id := h.Get(HeaderMessageID)
	ts := h.Get(HeaderMessageTimestamp)
	sig := h.Get(HeaderMessageSignature)
	if id == "" || ts == "" || sig == "" {
		return ErrMissingHeaders
	}

	expected := v.Sign(id, ts, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrInvalidSignature
	}

	sent, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrMalformed, ts)
	}
	if age := v.clock.Since(sent); age > v.maxAge {
		return fmt.Errorf("%w: %s old", ErrStaleMessage, age.Truncate(time.Second))
	}
	return nil
}

// Subscription is the subscription block of every delivery
type Subscription struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
}

// Message is one decoded delivery
type Message struct {
	ID           string
	Type         string
	Timestamp    time.Time
	Subscription Subscription
	Challenge    string
	Event        json.RawMessage
}

type body struct {
	Subscription Subscription    `json:"subscription"`
	Challenge    string          `json:"challenge"`
	Event        json.RawMessage `json:"event"`
}

// ParseMessage decodes a delivery whose signature has already been verified
func ParseMessage(h http.Header, raw []byte) (*Message, error) {
	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	msg := &Message{
		ID:           h.Get(HeaderMessageID),
		Type:         h.Get(HeaderMessageType),
		Subscription: b.Subscription,
		Challenge:    b.Challenge,
		Event:        b.Event,
	}
	if ts := h.Get(HeaderMessageTimestamp); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q", ErrMalformed, ts)
		}
		msg.Timestamp = t.UTC()
	}

	switch msg.Type {
	case MessageTypeVerification:
		if msg.Challenge == "" {
			return nil, fmt.Errorf("%w: verification without challenge", ErrMalformed)
		}
	case MessageTypeNotification:
		if len(msg.Event) == 0 {
			return nil, fmt.Errorf("%w: notification without event", ErrMalformed)
		}
	case MessageTypeRevocation:
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformed, msg.Type)
	}
	return msg, nil
}

// notificationEvent covers the fields of every subscription type we accept
type notificationEvent struct {
	BroadcasterUserID string  `json:"broadcaster_user_id"`
	UserLogin         *string `json:"user_login"`
	Tier              string  `json:"tier"`
	IsGift            bool    `json:"is_gift"`
	IsAnonymous       bool    `json:"is_anonymous"`
	Bits              int64   `json:"bits"`
	Total             int64   `json:"total"`
}

// RawEvent normalises a notification for the ingestor. The delivery's
// message id becomes the event id; Twitch keeps it stable across retries.
//
// Gifted subscriptions arrive twice: once as channel.subscription.gift with
// the total, and once per recipient as channel.subscribe with is_gift set.
// Only the gift event is counted, the per-recipient copies are ErrIgnored.
func (m *Message) RawEvent() (subathon.RawEvent, error) {
	if m.Type != MessageTypeNotification {
		return subathon.RawEvent{}, fmt.Errorf("%w: %s is not a notification", ErrMalformed, m.Type)
	}

	var ev notificationEvent
	if err := json.Unmarshal(m.Event, &ev); err != nil {
		return subathon.RawEvent{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if ev.BroadcasterUserID == "" {
		ev.BroadcasterUserID = m.Subscription.Condition["broadcaster_user_id"]
	}

	raw := subathon.RawEvent{
		EventID:           m.ID,
		Platform:          Platform,
		EventType:         m.Subscription.Type,
		BroadcasterUserID: ev.BroadcasterUserID,
		OccurredAt:        m.Timestamp,
		Data:              m.Event,
	}

	switch m.Subscription.Type {
	case string(models.EventTypeSubscribe):
		if ev.IsGift {
			return subathon.RawEvent{}, fmt.Errorf("%w: gifted subscription counted by its gift event", ErrIgnored)
		}
		raw.Tier = ev.Tier
	case string(models.EventTypeCheer):
		raw.Bits = ev.Bits
		raw.IsAnonymous = ev.IsAnonymous
	case string(models.EventTypeSubscriptionGift):
		raw.Tier = ev.Tier
		raw.Total = ev.Total
		raw.IsAnonymous = ev.IsAnonymous
	case subathon.EventTypeStreamOnline, subathon.EventTypeStreamOffline:
	default:
		// unknown types still reach the ingestor so they are counted as unsupported
	}

	if ev.UserLogin != nil && !raw.IsAnonymous {
		raw.UserLogin = *ev.UserLogin
	}
	return raw, nil
}
