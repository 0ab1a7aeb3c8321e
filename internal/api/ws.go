package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"binance-bot-fleet/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard is served same-host; cross-origin reads are harmless here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsHub fans fleet events out to connected dashboard clients.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
	logger  zerolog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan events.Event
}

func newWSHub(logger zerolog.Logger) *wsHub {
	return &wsHub{
		clients: make(map[*wsClient]bool),
		logger:  logger.With().Str("component", "ws").Logger(),
	}
}

// broadcast queues an event for every client. A client with a full buffer is
// dropped rather than allowed to stall the bus.
func (h *wsHub) broadcast(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			h.removeLocked(client)
		}
	}
}

func (h *wsHub) add(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *wsHub) remove(client *wsClient) {
	h.mu.Lock()
	h.removeLocked(client)
	h.mu.Unlock()
}

func (h *wsHub) removeLocked(client *wsClient) {
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
}

// handleWebSocket upgrades the connection and streams events until the
// client goes away.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan events.Event, wsSendBuffer)}
	s.hub.add(client)

	go s.hub.writeLoop(client)
	s.hub.readLoop(client)
}

// readLoop discards inbound frames; its job is detecting disconnects.
func (h *wsHub) readLoop(client *wsClient) {
	defer h.remove(client)
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *wsHub) writeLoop(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteJSON(event); err != nil {
				h.remove(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(client)
				return
			}
		}
	}
}
