package service

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/subathon"
	"github.com/mcdev12/subathon/go/internal/subathon/eventsub"
)

const maxWebhookBody = 1 << 20

// HandleTwitchWebhook serves POST /webhooks/twitch. Twitch retries any
// non-2xx delivery, so only failures a retry can fix answer with 5xx.
func (s *Service) HandleTwitchWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	messageID := r.Header.Get(eventsub.HeaderMessageID)
	if err := s.config.Verifier.Verify(r.Header, body); err != nil {
		log.Warn().Err(err).Str("event_id", messageID).Msg("rejected eventsub delivery")
		if errors.Is(err, eventsub.ErrMalformed) || errors.Is(err, eventsub.ErrMissingHeaders) {
			writeErrorMessage(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeErrorMessage(w, http.StatusForbidden, "invalid_signature", err.Error())
		return
	}

	msg, err := eventsub.ParseMessage(r.Header, body)
	if err != nil {
		log.Warn().Err(err).Str("event_id", messageID).Msg("malformed eventsub delivery")
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	switch msg.Type {
	case eventsub.MessageTypeVerification:
		log.Info().
			Str("subscription_id", msg.Subscription.ID).
			Str("event_type", msg.Subscription.Type).
			Msg("eventsub subscription verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, msg.Challenge)
		return

	case eventsub.MessageTypeRevocation:
		log.Warn().
			Str("subscription_id", msg.Subscription.ID).
			Str("event_type", msg.Subscription.Type).
			Str("status", msg.Subscription.Status).
			Msg("eventsub subscription revoked")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ev, err := msg.RawEvent()
	if err != nil {
		if errors.Is(err, eventsub.ErrIgnored) {
			log.Debug().Err(err).Str("event_id", msg.ID).Msg("eventsub notification ignored")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := s.app.Ingest(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, subathon.ErrUnresolvedStreamer):
		// already recorded for reconciliation; a redelivery cannot resolve it
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, err)
	}
}
