package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bulkwars/config"
	"bulkwars/engine"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Controller receives what observers do. engine.Engine satisfies it.
type Controller interface {
	Connect(connID string)
	Disconnect(connID string)
	Submit(connID, team string) bool
}

// Config holds the websocket limits of a Hub.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration // pong wait
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the limits from config/constants.go.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    config.WSWriteDeadline,
		ReadTimeout:     config.WSReadDeadline,
		PingInterval:    config.WSPingInterval,
		MaxMessageSize:  config.MaxMessageSize,
		ReadBufferSize:  config.WSReadBufferSize,
		WriteBufferSize: config.WSWriteBufferSize,
		SendBufferSize:  config.WSSendBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// Hub tracks connected observers and fans messages out to them. Sends never
// block: an observer whose queue is full is disconnected and recovers through
// init when it reconnects.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	evictions atomic.Uint64
	sent      atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		clients: make(map[string]*Client),
	}
}

// Handler upgrades /ws requests and wires each connection to ctrl.
func (h *Hub) Handler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		c := h.newClient(conn)
		h.register(c)

		log.Info().
			Str("conn_id", c.ID).
			Str("remote_addr", r.RemoteAddr).
			Int("total_clients", h.Len()).
			Msg("websocket connection established")

		go c.writePump()
		// Registered before Connect so the init snapshot has somewhere to go.
		ctrl.Connect(c.ID)
		go c.readPump(ctrl)
	}
}

// Broadcast implements engine.Publisher. The message is marshalled once.
func (h *Hub) Broadcast(msg engine.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// SendTo implements engine.Publisher.
func (h *Hub) SendTo(connID string, msg engine.Message) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal message")
		return
	}
	h.deliver(c, data)
}

// Len reports the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Evictions counts observers dropped for a full send queue.
func (h *Hub) Evictions() uint64 { return h.evictions.Load() }

// Sent counts queued outbound frames.
func (h *Hub) Sent() uint64 { return h.sent.Load() }

// Close disconnects every observer. Their read pumps report the disconnects.
func (h *Hub) Close() {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.unregister(c)
	}
	log.Info().Int("clients", len(targets)).Msg("websocket hub closed")
}

func (h *Hub) newClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:          uuid.NewString(),
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBufferSize),
		connectedAt: time.Now(),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// unregister removes c and closes its queue. The write pump then sends a
// close frame and shuts the socket. It reports false if c was already gone.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	delete(h.clients, c.ID)
	close(c.send)
	return true
}

func (h *Hub) deliver(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Checked under the lock so a concurrent unregister cannot close send
	// between the lookup and the write.
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
		h.sent.Add(1)
	default:
		go h.evict(c)
	}
}

func (h *Hub) evict(c *Client) {
	if !h.unregister(c) {
		return
	}
	c.conn.Close()
	h.evictions.Add(1)
	log.Warn().Str("conn_id", c.ID).Msg("client send buffer full, closing connection")
}
