package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/middleware"
	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon"
	"github.com/mcdev12/subathon/go/internal/subathon/eventsub"
)

// SubathonApp defines what the service layer needs from the subathon engine
type SubathonApp interface {
	CreateSubathon(ctx context.Context, streamerID uuid.UUID, settings *models.SubathonSettings) (*models.Subathon, error)
	GetSubathon(ctx context.Context, streamerID uuid.UUID) (*models.Subathon, error)
	RegisterClick(ctx context.Context, streamerID uuid.UUID, playerIdentity string) (subathon.ClickResult, error)
	Transition(ctx context.Context, streamerID uuid.UUID, to models.SubathonStatus, reason string) (*models.Subathon, error)
	UpdateSettings(ctx context.Context, streamerID uuid.UUID, settings models.SubathonSettings) (*models.Subathon, error)
	ListAdditions(ctx context.Context, streamerID uuid.UUID, limit int) ([]models.TimeAddition, error)
	ListUnresolvedEvents(ctx context.Context, limit int) ([]models.UnresolvedEvent, error)
	Ingest(ctx context.Context, ev subathon.RawEvent) (subathon.IngestResult, error)
}

// Config wires the optional pieces of the HTTP surface. A nil verifier
// leaves the Twitch webhook unmounted; an empty IngestToken leaves the raw
// ingest route unmounted.
type Config struct {
	Verifier       *eventsub.Verifier
	IngestToken    string
	ClickLimiter   *middleware.RateLimiter
	WebhookLimiter *middleware.RateLimiter
}

// Service implements the subathon HTTP API
type Service struct {
	app    SubathonApp
	config Config
}

func NewService(app SubathonApp, config Config) *Service {
	return &Service{
		app:    app,
		config: config,
	}
}

// RegisterRoutes mounts the API on r
func (s *Service) RegisterRoutes(r chi.Router) {
	// flat patterns so other handlers can share the /api/subathons/{streamerID} prefix
	r.Post("/api/subathons", s.HandleCreateSubathon)
	r.Get("/api/subathons/{streamerID}", s.HandleGetSubathon)
	r.With(limit(s.config.ClickLimiter)).Post("/api/subathons/{streamerID}/clicks", s.HandleClick)
	r.Post("/api/subathons/{streamerID}/transitions", s.HandleTransition)
	r.Put("/api/subathons/{streamerID}/settings", s.HandleUpdateSettings)
	r.Get("/api/subathons/{streamerID}/additions", s.HandleListAdditions)
	r.Get("/api/reconciliation/events", s.HandleListUnresolved)

	if s.config.IngestToken != "" {
		r.With(limit(s.config.WebhookLimiter)).Post("/api/events", s.HandleIngest)
	}
	if s.config.Verifier != nil {
		r.With(limit(s.config.WebhookLimiter)).Post("/webhooks/twitch", s.HandleTwitchWebhook)
	}
}

func limit(rl *middleware.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Middleware
}

type createSubathonRequest struct {
	StreamerID uuid.UUID                `json:"streamer_id"`
	Settings   *models.SubathonSettings `json:"settings,omitempty"`
}

// HandleCreateSubathon serves POST /api/subathons
func (s *Service) HandleCreateSubathon(w http.ResponseWriter, r *http.Request) {
	var req createSubathonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.StreamerID == uuid.Nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request", "streamer_id is required")
		return
	}

	sub, err := s.app.CreateSubathon(r.Context(), req.StreamerID, req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// HandleGetSubathon serves GET /api/subathons/{streamerID}
func (s *Service) HandleGetSubathon(w http.ResponseWriter, r *http.Request) {
	streamerID, ok := streamerParam(w, r)
	if !ok {
		return
	}
	sub, err := s.app.GetSubathon(r.Context(), streamerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type clickRequest struct {
	PlayerIdentity string `json:"player_identity"`
}

// HandleClick serves POST /api/subathons/{streamerID}/clicks
func (s *Service) HandleClick(w http.ResponseWriter, r *http.Request) {
	streamerID, ok := streamerParam(w, r)
	if !ok {
		return
	}
	var req clickRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.app.RegisterClick(r.Context(), streamerID, req.PlayerIdentity)
	if err != nil {
		if result.CooldownRemaining != nil {
			w.Header().Set("Retry-After", strconv.FormatInt(max(1, *result.CooldownRemaining), 10))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type transitionRequest struct {
	Status models.SubathonStatus `json:"status"`
	Reason string                `json:"reason,omitempty"`
}

// HandleTransition serves POST /api/subathons/{streamerID}/transitions
func (s *Service) HandleTransition(w http.ResponseWriter, r *http.Request) {
	streamerID, ok := streamerParam(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	sub, err := s.app.Transition(r.Context(), streamerID, req.Status, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// HandleUpdateSettings serves PUT /api/subathons/{streamerID}/settings
func (s *Service) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	streamerID, ok := streamerParam(w, r)
	if !ok {
		return
	}
	var settings models.SubathonSettings
	if !decodeBody(w, r, &settings) {
		return
	}

	sub, err := s.app.UpdateSettings(r.Context(), streamerID, settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// HandleListAdditions serves GET /api/subathons/{streamerID}/additions?limit=
func (s *Service) HandleListAdditions(w http.ResponseWriter, r *http.Request) {
	streamerID, ok := streamerParam(w, r)
	if !ok {
		return
	}
	rows, err := s.app.ListAdditions(r.Context(), streamerID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"additions": rows})
}

// HandleListUnresolved serves GET /api/reconciliation/events?limit=
func (s *Service) HandleListUnresolved(w http.ResponseWriter, r *http.Request) {
	rows, err := s.app.ListUnresolvedEvents(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": rows})
}

// HandleIngest serves POST /api/events, for platforms that are normalised
// upstream. Callers authenticate with the X-Ingest-Token header.
func (s *Service) HandleIngest(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Ingest-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.IngestToken)) != 1 {
		writeErrorMessage(w, http.StatusUnauthorized, "unauthorized", "invalid ingest token")
		return
	}
	var ev subathon.RawEvent
	if !decodeBody(w, r, &ev) {
		return
	}

	result, err := s.app.Ingest(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func streamerParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "streamerID"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request", "invalid streamer id")
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

const maxRequestBody = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON body"
		if strings.Contains(err.Error(), "too large") {
			msg = "request body too large"
		}
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request", msg)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
