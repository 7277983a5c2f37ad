package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/strikenet/strikenet/pkg/events"
	"github.com/strikenet/strikenet/pkg/messages"
)

// WatchFrame is one message on the watch stream
type WatchFrame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Frame type constants
const (
	FrameTypeSnapshot  = "snapshot"
	FrameTypeLifecycle = "lifecycle"
	FrameTypePing      = "ping"
	FrameTypePong      = "pong"
)

// WatchClient is one connected render client
type WatchClient struct {
	id   string
	conn *websocket.Conn
	send chan WatchFrame
	hub  *WatchHub
	// simulationID filters frames to one run; empty receives all.
	simulationID string
}

// WatchHub fans simulation snapshots out to render clients. Frames come in
// either directly from the in-process engine or from NATS when another
// process publishes them.
type WatchHub struct {
	clients    map[string]*WatchClient
	broadcast  chan WatchFrame
	register   chan *WatchClient
	unregister chan *WatchClient
	mu         sync.RWMutex
	logger     zerolog.Logger
	nc         *nats.Conn
	subs       []*nats.Subscription
}

// NewWatchHub creates a new watch hub. nc may be nil.
func NewWatchHub(nc *nats.Conn, logger zerolog.Logger) *WatchHub {
	return &WatchHub{
		clients:    make(map[string]*WatchClient),
		broadcast:  make(chan WatchFrame, 256),
		register:   make(chan *WatchClient),
		unregister: make(chan *WatchClient),
		logger:     logger.With().Str("component", "watch_hub").Logger(),
		nc:         nc,
	}
}

// Run starts the watch hub
func (h *WatchHub) Run(ctx context.Context) {
	if h.nc != nil {
		h.subscribeToNATS()
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info().Str("client_id", client.id).Int("total_clients", len(h.clients)).Msg("watch client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info().Str("client_id", client.id).Int("total_clients", len(h.clients)).Msg("watch client disconnected")

		case frame := <-h.broadcast:
			simID := frameSimulationID(frame)
			h.mu.RLock()
			for _, client := range h.clients {
				if client.simulationID != "" && simID != "" && client.simulationID != simID {
					continue
				}
				select {
				case client.send <- frame:
				default:
					// Slow render clients lose frames, never block the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// frameSimulationID extracts the run id a frame belongs to.
func frameSimulationID(frame WatchFrame) string {
	var p struct {
		SimulationID string `json:"simulation_id"`
	}
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return ""
	}
	return p.SimulationID
}

// subscribeToNATS mirrors externally published engine events onto the hub
func (h *WatchHub) subscribeToNATS() {
	subjects := map[string]string{
		events.SubjectSnapshot + ".>":  FrameTypeSnapshot,
		events.SubjectLifecycle + ".>": FrameTypeLifecycle,
	}

	for subject, frameType := range subjects {
		ft := frameType
		sub, err := h.nc.Subscribe(subject, func(msg *nats.Msg) {
			h.Broadcast(WatchFrame{
				Type:      ft,
				Payload:   msg.Data,
				Timestamp: time.Now().UTC(),
			})
		})
		if err != nil {
			h.logger.Error().Err(err).Str("subject", subject).Msg("failed to subscribe to NATS subject")
			continue
		}
		h.subs = append(h.subs, sub)
		h.logger.Info().Str("subject", subject).Msg("subscribed to NATS subject")
	}
}

func (h *WatchHub) shutdown() {
	for _, sub := range h.subs {
		sub.Unsubscribe()
	}

	h.mu.Lock()
	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*WatchClient)
	h.mu.Unlock()

	h.logger.Info().Msg("watch hub shutdown complete")
}

// Broadcast queues a frame for every connected client
func (h *WatchHub) Broadcast(frame WatchFrame) {
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn().Str("frame_type", frame.Type).Msg("broadcast buffer full, dropping frame")
	}
}

// BroadcastSnapshot wraps a world snapshot in a frame and broadcasts it.
// Wired to the engine's snapshot hook.
func (h *WatchHub) BroadcastSnapshot(snap messages.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	h.Broadcast(WatchFrame{
		Type:      FrameTypeSnapshot,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// ClientCount returns the number of connected clients
func (h *WatchHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WatchHandler upgrades render clients onto the hub
type WatchHandler struct {
	hub    *WatchHub
	logger zerolog.Logger
}

// NewWatchHandler creates a new WatchHandler
func NewWatchHandler(hub *WatchHub, logger zerolog.Logger) *WatchHandler {
	return &WatchHandler{
		hub:    hub,
		logger: logger.With().Str("handler", "watch").Logger(),
	}
}

// ServeHTTP handles GET /ws/watch?simulation_id=...
func (h *WatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to accept WebSocket connection")
		return
	}

	client := &WatchClient{
		id:           uuid.New().String(),
		conn:         conn,
		send:         make(chan WatchFrame, 64),
		hub:          h.hub,
		simulationID: r.URL.Query().Get("simulation_id"),
	}

	h.hub.register <- client

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go client.writePump(ctx)
	client.readPump(ctx)
}

// writePump pumps frames from the hub to the WebSocket connection
func (c *WatchClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "connection closed")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, c.conn, frame)
			cancel()

			if err != nil {
				c.hub.logger.Debug().Err(err).Str("client_id", c.id).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			ping := WatchFrame{Type: FrameTypePing, Timestamp: time.Now().UTC()}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, c.conn, ping)
			cancel()

			if err != nil {
				c.hub.logger.Debug().Err(err).Str("client_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump drains client messages; watch clients only ever answer pings
func (c *WatchClient) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var frame WatchFrame
		err := wsjson.Read(ctx, c.conn, &frame)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return
			}
			c.hub.logger.Debug().Err(err).Str("client_id", c.id).Msg("read error")
			return
		}

		switch frame.Type {
		case FrameTypePong:
			continue
		default:
			c.hub.logger.Debug().Str("client_id", c.id).Str("type", frame.Type).Msg("unknown frame type")
		}
	}
}
