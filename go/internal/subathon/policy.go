package subathon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/subathon/go/internal/models"
)

// Platform stream lifecycle events. They drive status transitions instead of
// adding time.
const (
	EventTypeStreamOnline  = "stream.online"
	EventTypeStreamOffline = "stream.offline"
)

// Ingest rejection reasons
const (
	ReasonUnresolvedStreamer = "unresolved_streamer"
	ReasonStreamerNotLive    = "streamer_not_live"
	ReasonUnsupportedType    = "unsupported_event_type"
	ReasonUnknownTier        = "unknown_tier"
	ReasonBelowThreshold     = "below_threshold"
	ReasonDuplicate          = "duplicate"
	ReasonNoTransition       = "no_transition"
)

// RawEvent is a platform event normalised from the webhook payload
type RawEvent struct {
	EventID           string          `json:"event_id"`
	Platform          string          `json:"platform"`
	EventType         string          `json:"event_type"`
	BroadcasterUserID string          `json:"broadcaster_user_id"`
	UserLogin         string          `json:"user_login,omitempty"`
	Tier              string          `json:"tier,omitempty"`
	Bits              int64           `json:"bits,omitempty"`
	Total             int64           `json:"total,omitempty"`
	IsAnonymous       bool            `json:"is_anonymous,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Data              json.RawMessage `json:"data,omitempty"`
}

// CheerPolicy awards SecondsPerUnit for every full BitsPerUnit cheered
type CheerPolicy struct {
	BitsPerUnit    int64 `yaml:"bits_per_unit"`
	SecondsPerUnit int64 `yaml:"seconds_per_unit"`
}

// Policy maps platform events to seconds. It is a pure lookup table so the
// same event always yields the same amount.
type Policy struct {
	SubscribeTiers map[string]int64 `yaml:"subscribe_tiers"`
	Cheer          CheerPolicy      `yaml:"cheer"`
	// GiftTiers is seconds per gifted subscription, multiplied by the gift total.
	GiftTiers map[string]int64 `yaml:"gift_tiers"`
}

// DefaultPolicy returns the stock table: five minutes per tier 1 sub, one
// minute per hundred bits
func DefaultPolicy() Policy {
	return Policy{
		SubscribeTiers: map[string]int64{
			"1000": 300,
			"2000": 600,
			"3000": 1500,
		},
		Cheer: CheerPolicy{
			BitsPerUnit:    100,
			SecondsPerUnit: 60,
		},
		GiftTiers: map[string]int64{
			"1000": 300,
			"2000": 600,
			"3000": 1500,
		},
	}
}

// Validate checks the table has no negative or zero-sized entries
func (p Policy) Validate() error {
	if p.Cheer.BitsPerUnit < 1 {
		return fmt.Errorf("cheer.bits_per_unit must be at least 1")
	}
	if p.Cheer.SecondsPerUnit < 0 {
		return fmt.Errorf("cheer.seconds_per_unit must not be negative")
	}
	for tier, secs := range p.SubscribeTiers {
		if secs < 0 {
			return fmt.Errorf("subscribe_tiers[%s] must not be negative", tier)
		}
	}
	for tier, secs := range p.GiftTiers {
		if secs < 0 {
			return fmt.Errorf("gift_tiers[%s] must not be negative", tier)
		}
	}
	return nil
}

// Seconds returns the time an event is worth. reason is set when the event
// cannot be mapped at all.
func (p Policy) Seconds(ev RawEvent) (seconds int64, eventType models.TimeAdditionEventType, reason string) {
	switch models.TimeAdditionEventType(ev.EventType) {
	case models.EventTypeSubscribe:
		secs, ok := p.SubscribeTiers[ev.Tier]
		if !ok {
			return 0, models.EventTypeSubscribe, ReasonUnknownTier
		}
		return secs, models.EventTypeSubscribe, ""

	case models.EventTypeCheer:
		if ev.Bits <= 0 {
			return 0, models.EventTypeCheer, ""
		}
		units := ev.Bits / p.Cheer.BitsPerUnit
		return units * p.Cheer.SecondsPerUnit, models.EventTypeCheer, ""

	case models.EventTypeSubscriptionGift:
		secs, ok := p.GiftTiers[ev.Tier]
		if !ok {
			return 0, models.EventTypeSubscriptionGift, ReasonUnknownTier
		}
		total := ev.Total
		if total < 0 {
			total = 0
		}
		return secs * total, models.EventTypeSubscriptionGift, ""
	}

	return 0, "", ReasonUnsupportedType
}
