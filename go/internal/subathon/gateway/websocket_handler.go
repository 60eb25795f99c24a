package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/subathon"
)

// WebSocketHandler upgrades observers and attaches them to the hub
type WebSocketHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

func NewWebSocketHandler(hub *Hub, config ConnectionConfig) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// HandleSubathonConnection serves /ws/subathon?streamer_id=...
func (h *WebSocketHandler) HandleSubathonConnection(w http.ResponseWriter, r *http.Request) {
	streamerID, err := uuid.Parse(r.URL.Query().Get("streamer_id"))
	if err != nil {
		http.Error(w, "valid streamer_id is required", http.StatusBadRequest)
		return
	}

	// Subscribe before upgrading so a missing subathon is still a plain 404
	sub, err := h.hub.Subscribe(r.Context(), streamerID)
	if err != nil {
		if errors.Is(err, subathon.ErrSubathonNotFound) {
			http.Error(w, "subathon not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("streamer_id", streamerID.String()).Msg("failed to subscribe")
		http.Error(w, "failed to load subathon state", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		log.Error().Err(err).Str("streamer_id", streamerID.String()).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := newConnection(conn, sub, h.config)
	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("streamer_id", streamerID.String()).
		Int64("snapshot_version", sub.Snapshot.Version).
		Msg("WebSocket connection established")
}

// HandleStats returns subscriber counts per streamer
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.hub.Stats()
	total := 0
	for _, n := range stats {
		total += n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"total_connections":    total,
		"streamer_connections": stats,
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes mounts the WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/subathon", h.HandleSubathonConnection)
	r.Get("/ws/stats", h.HandleStats)
}
