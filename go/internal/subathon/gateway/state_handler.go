package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/subathon"
)

// StateHandler serves the snapshot late joiners start from
type StateHandler struct {
	snapshots SnapshotProvider
}

func NewStateHandler(snapshots SnapshotProvider) *StateHandler {
	return &StateHandler{snapshots: snapshots}
}

// HandleGetState serves GET /api/subathons/{streamerID}/state[?verify=true]
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	streamerID, err := uuid.Parse(chi.URLParam(r, "streamerID"))
	if err != nil {
		http.Error(w, "invalid streamer id", http.StatusBadRequest)
		return
	}
	verify, _ := strconv.ParseBool(r.URL.Query().Get("verify"))

	snap, err := h.snapshots.GetSnapshot(r.Context(), streamerID, verify)
	if err != nil {
		if errors.Is(err, subathon.ErrSubathonNotFound) {
			http.Error(w, "subathon not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("streamer_id", streamerID.String()).Msg("failed to get subathon state")
		http.Error(w, "failed to load subathon state", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error().Err(err).Msg("failed to encode subathon state")
	}
}

// RegisterRoutes mounts the state routes
func (h *StateHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/subathons/{streamerID}/state", h.HandleGetState)
}
