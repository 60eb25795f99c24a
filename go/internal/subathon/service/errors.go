package service

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon"
)

// ErrorResponseBody is the JSON body of every error response
type ErrorResponseBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps the engine's error taxonomy onto HTTP
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, subathon.ErrInvalidRequest),
		errors.Is(err, subathon.ErrInvalidEvent),
		errors.Is(err, models.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, subathon.ErrSubathonNotFound):
		return http.StatusNotFound, "subathon_not_found"
	case errors.Is(err, subathon.ErrStreamerNotFound):
		return http.StatusNotFound, "streamer_not_found"
	case errors.Is(err, subathon.ErrUnresolvedStreamer):
		return http.StatusNotFound, "unresolved_streamer"
	case errors.Is(err, subathon.ErrStreamerNotApproved):
		return http.StatusForbidden, "streamer_not_approved"
	case errors.Is(err, subathon.ErrSubathonExists):
		return http.StatusConflict, "subathon_exists"
	case errors.Is(err, subathon.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, subathon.ErrStreamerNotLive):
		return http.StatusConflict, "streamer_not_live"
	case errors.Is(err, subathon.ErrSubathonEnded):
		return http.StatusConflict, "subathon_ended"
	case errors.Is(err, subathon.ErrCooldownActive):
		return http.StatusTooManyRequests, "cooldown_active"
	case errors.Is(err, subathon.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
		msg = http.StatusText(status)
	}
	writeErrorMessage(w, status, code, msg)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponseBody{Code: code, Message: message})
}
