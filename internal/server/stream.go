package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"solscope/internal/domain"
	"solscope/internal/infra"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 50 * time.Second
)

// StreamMessage is the envelope pushed to /ws clients
type StreamMessage struct {
	Type string `json:"type"` // launch, launch_update, trade, alert
	Data any    `json:"data"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Stream broadcasts monitor output to websocket clients.
// A client whose buffer is full is disconnected; broadcasting never blocks.
type Stream struct {
	mu       sync.Mutex
	clients  map[*streamClient]struct{}
	upgrader websocket.Upgrader
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewStream creates an empty broadcaster
func NewStream(metrics *infra.Metrics) *Stream {
	return &Stream{
		clients:  make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		metrics:  metrics,
		logger:   slog.Default().With("module", "stream"),
	}
}

// ClientCount returns the number of connected clients
func (s *Stream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Stream) OnLaunch(l domain.TokenLaunch)         { s.Broadcast("launch", l) }
func (s *Stream) OnTrade(t domain.TradeActivity)        { s.Broadcast("trade", t) }
func (s *Stream) OnLaunchEnriched(l domain.TokenLaunch) { s.Broadcast("launch_update", l) }
func (s *Stream) PublishAlert(a domain.TradeAlert)      { s.Broadcast("alert", a) }

// Broadcast sends one message to every client
func (s *Stream) Broadcast(kind string, data any) {
	msg, err := json.Marshal(StreamMessage{Type: kind, Data: data})
	if err != nil {
		s.logger.Error("Failed to marshal stream message", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Warn("Stream client too slow, disconnecting")
			s.removeLocked(c)
		}
	}
}

// Close disconnects every client
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.removeLocked(c)
	}
}

// removeLocked must be called with mu held
func (s *Stream) removeLocked(c *streamClient) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	c.close()
	s.metrics.DecrementStreamClients()
}

// ServeHTTP upgrades the connection and registers the client
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", slog.Any("error", err))
		return
	}

	c := &streamClient{conn: conn, send: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.IncrementStreamClients()

	go s.writePump(c)
	go s.readPump(c)
}

// readPump discards client input and detects disconnects
func (s *Stream) readPump(c *streamClient) {
	defer func() {
		s.mu.Lock()
		s.removeLocked(c)
		s.mu.Unlock()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns all writes to the connection
func (s *Stream) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
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
