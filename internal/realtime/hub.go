package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lox/urbanrisk/internal/metrics"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Message is the envelope written to stream clients.
type Message struct {
	Type        string       `json:"type"` // "history" or "prediction"
	Prediction  *Prediction  `json:"prediction,omitempty"`
	Predictions []Prediction `json:"predictions,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	city string // empty streams every city
	send chan []byte
	once sync.Once
}

func (c *client) wants(p Prediction) bool {
	return c.city == "" || c.city == p.City
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans predictions out to websocket clients. A client that cannot keep
// up with its send buffer is disconnected.
type Hub struct {
	tracker  *Tracker
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(tracker *Tracker) *Hub {
	return &Hub{
		tracker: tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request, sends the stored history and then streams
// published predictions until the client goes away. An optional city query
// parameter limits both to that city.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: upgrade: %v", err)
		return
	}

	c := &client{
		conn: conn,
		city: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("city"))),
		send: make(chan []byte, sendBuffer),
	}

	hist, err := json.Marshal(Message{
		Type:        "history",
		Predictions: h.tracker.History(c.city),
		Timestamp:   time.Now().UTC(),
	})
	if err == nil {
		c.send <- hist
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.StreamClients.Inc()

	go h.writePump(c)
	h.readPump(c)
}

// Publish records p in the tracker and queues it, without blocking, for every
// client streaming p's city.
func (h *Hub) Publish(p Prediction) {
	h.tracker.Append(p)

	msg, err := json.Marshal(Message{Type: "prediction", Prediction: &p, Timestamp: time.Now().UTC()})
	if err != nil {
		log.Printf("stream: encode prediction: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(p) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			log.Printf("stream: dropping slow client %s", c.conn.RemoteAddr())
			h.removeLocked(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	metrics.StreamClients.Dec()
}

// readPump discards client input and returns once the connection fails.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + writeWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + writeWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("stream: read: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
