package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
)

// StreamInterval is the default push cadence for connected dashboard clients.
const StreamInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard clients are same-origin browser pages served by this process; the origin check
	// is intentionally permissive for the CLI demo surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan Payload
	stop chan struct{}
}

// Payload is one frame pushed to every connected client: the snapshot plus any alerts derived
// from it.
type Payload struct {
	Snapshot Snapshot `json:"snapshot"`
	Alerts   []Alert  `json:"alerts"`
}

// Hub fans one periodically-taken Snapshot out to every connected websocket client. A slow
// client misses frames while its buffer is full, and a client whose write fails or whose
// connection closes is dropped, without affecting delivery to the others.
type Hub struct {
	snapshotter *Snapshotter
	log         *logging.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub builds a Hub around a Snapshotter.
func NewHub(snapshotter *Snapshotter, log *logging.Logger) *Hub {
	return &Hub{
		snapshotter: snapshotter,
		log:         log,
		clients:     make(map[*client]struct{}),
	}
}

// Run takes a snapshot every StreamInterval and broadcasts it to all connected clients until ctx
// is cancelled. Intended to run as a single long-lived goroutine from the composition root.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			snap := h.snapshotter.Take(ctx)
			h.broadcast(Payload{Snapshot: snap, Alerts: DeriveAlerts(snap)})
		}
	}
}

func (h *Hub) broadcast(p Payload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- p:
		default:
			// client's outbound buffer is full; drop the frame rather than block the broadcast
			// for every other client.
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.stop)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and registers it as a dashboard
// stream client. It sends one immediate snapshot on connect, then relays broadcast frames until
// the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.WithContext(r.Context()).WithError(err).Warn("dashboard websocket upgrade failed")
		}
		return
	}

	c := &client{conn: conn, send: make(chan Payload, 4), stop: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	initial := h.snapshotter.Take(r.Context())
	c.send <- Payload{Snapshot: initial, Alerts: DeriveAlerts(initial)}

	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop discards inbound frames but detects disconnects, unregistering the client.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.stop:
			return
		case payload := <-c.send:
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.stop)
		c.conn.Close()
	}
}

// ClientCount reports the number of currently connected dashboard stream clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
