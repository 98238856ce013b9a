package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/okravets/speakfluent/internal/observability"
)

const (
	outboundQueueSize = 256
	writeDeadline     = 10 * time.Second
)

// conn is one websocket attached to a logical client. Writes go through
// the send queue so the socket only ever has a single writer.
type conn struct {
	ws   *websocket.Conn
	send chan any

	mu     sync.Mutex
	closed bool
}

// enqueue queues a payload for delivery, dropping it when the socket
// cannot keep up. After shutdown it is a safe no-op, so broadcasters
// racing a disconnect never hit a closed channel.
func (c *conn) enqueue(payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue exactly once.
func (c *conn) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// hub tracks the websockets attached to each logical client. A client
// that opens the page twice gets every event on both sockets.
type hub struct {
	log     zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	clients map[string]map[*conn]struct{}
}

func newHub(log zerolog.Logger, metrics *observability.Metrics) *hub {
	return &hub{
		log:     log,
		metrics: metrics,
		clients: make(map[string]map[*conn]struct{}),
	}
}

func (h *hub) add(clientID string, ws *websocket.Conn) *conn {
	c := &conn{ws: ws, send: make(chan any, outboundQueueSize)}
	h.mu.Lock()
	set, ok := h.clients[clientID]
	if !ok {
		set = make(map[*conn]struct{})
		h.clients[clientID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	go h.writer(clientID, c)
	return c
}

// remove detaches one websocket and reports how many remain for the
// client.
func (h *hub) remove(clientID string, c *conn) int {
	h.mu.Lock()
	set, ok := h.clients[clientID]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, clientID)
		}
	}
	remaining := len(set)
	h.mu.Unlock()

	c.shutdown()
	return remaining
}

// broadcast queues a payload on every socket attached to the client.
func (h *hub) broadcast(clientID string, payload any) {
	h.mu.Lock()
	conns := make([]*conn, 0, 2)
	for c := range h.clients[clientID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if !c.enqueue(payload) {
			h.log.Warn().Str("client_id", clientID).Msg("outbound queue full, dropping event")
		}
	}
}

func (h *hub) writer(clientID string, c *conn) {
	for payload := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.ws.WriteJSON(payload); err != nil {
			h.log.Debug().Err(err).Str("client_id", clientID).Msg("websocket write failed")
			// Drain the queue so broadcasters never block on a dead socket.
			for range c.send {
			}
			return
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues("outbound", typeOf(payload)).Inc()
		}
	}
}
