package websocket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/internal/metrics"
	"github.com/satriahrh/bmschat/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	sendBuffer = 256
)

// Hub maintains the set of connected voice clients
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	voice    *usecase.VoiceService
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithAllowedOrigins restricts browser origins; "*" allows any
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = originChecker(origins)
	}
}

// WithMetrics records connected clients on m
func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new WebSocket hub
func NewHub(voice *usecase.VoiceService, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		voice:      voice,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker([]string{"*"}),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		metrics: metrics.NewNop(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.WebsocketClients.Inc()
			h.logger.Info("Client registered", zap.String("sessionID", client.sessionID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
				h.metrics.WebsocketClients.Dec()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.sessionID))

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.closeSend()
				h.metrics.WebsocketClients.Dec()
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DisconnectSession closes every connection of a login session, e.g. after
// logout
func (h *Hub) DisconnectSession(sessionID string) int {
	h.mu.RLock()
	var targets []*Client
	for client := range h.clients {
		if client.sessionID == sessionID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.conn.Close()
	}
	return len(targets)
}

// HandleWebSocket upgrades an authenticated request and starts the client's
// pumps
func (h *Hub) HandleWebSocket(c echo.Context, sessionID string) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan WriteData, sendBuffer),
		sessionID: sessionID,
		validator: NewMessageValidator(),
		logger:    h.logger.With(zap.String("sessionID", sessionID)),
	}
	client.voice = h.voice.NewSession(context.Background(), sessionID, client)

	h.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] {
			return true
		}
		return allowed[strings.TrimRight(origin, "/")]
	}
}
