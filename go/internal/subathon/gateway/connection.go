package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/subathon/events"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Connection pumps one subscription to one WebSocket client
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	Sub    *Subscription
	config ConnectionConfig

	ConnectedAt time.Time
}

func newConnection(conn *websocket.Conn, sub *Subscription, config ConnectionConfig) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Sub:         sub,
		config:      config,
		ConnectedAt: time.Now(),
	}
}

// snapshotEnvelope wraps the subscription snapshot as the first message
func snapshotEnvelope(sub *Subscription) (events.Envelope, error) {
	data, err := json.Marshal(sub.Snapshot)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return events.Envelope{
		ID:         uuid.New(),
		StreamerID: sub.StreamerID,
		Type:       events.TypeSnapshot,
		Version:    sub.Snapshot.Version,
		Timestamp:  sub.Snapshot.ServerTime,
		Data:       data,
	}, nil
}

// writePump sends the snapshot, then every envelope from the subscription,
// with periodic pings
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Sub.Close()
		c.Conn.Close()
	}()

	first, err := snapshotEnvelope(c.Sub)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to build snapshot message")
		return
	}
	if err := c.write(first); err != nil {
		return
	}

	for {
		select {
		case env, ok := <-c.Sub.Events():
			if !ok {
				c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				reason := "subscription closed"
				if c.Sub.Dropped() {
					reason = "too slow, resubscribe"
				}
				c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason))
				return
			}
			if err := c.write(env); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) write(env events.Envelope) error {
	c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.Conn.WriteJSON(env); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Msg("failed to write message to WebSocket")
		return err
	}
	return nil
}

// readPump keeps the read deadline fresh and notices when the client goes away.
// Clients do not send commands on this socket.
func (c *Connection) readPump() {
	defer c.Sub.Close()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
