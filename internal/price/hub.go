package price

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/model"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 8
)

// QuoteMessage is the JSON frame pushed to quote subscribers.
type QuoteMessage struct {
	Type  string           `json:"type"` // "quote"
	Quote model.PriceQuote `json:"quote"`
}

// subscriber is one WebSocket connection. Only its write pump writes to conn.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans quotes out to WebSocket subscribers. A new subscriber first
// receives the latest quote, then every published one. Subscribers that
// fall behind are disconnected.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	latest      []byte

	broadcast  chan []byte
	register   chan *subscriber
	unregister chan *subscriber
	stopped    chan struct{}
}

// NewHub creates a quote hub. Call Run before serving HandleWS.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		broadcast:   make(chan []byte, 64),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		stopped:     make(chan struct{}),
	}
}

// Run owns the subscriber set until done is closed, then disconnects
// everyone. Must be called in a goroutine.
func (h *Hub) Run(done <-chan struct{}) {
	defer close(h.stopped)
	for {
		select {
		case <-done:
			h.mu.Lock()
			for s := range h.subscribers {
				h.drop(s)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = struct{}{}
			if h.latest != nil {
				s.send <- h.latest
			}
			n := len(h.subscribers)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("quote subscriber connected", "total", n)

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				h.drop(s)
			}
			n := len(h.subscribers)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			h.latest = msg
			for s := range h.subscribers {
				select {
				case s.send <- msg:
				default:
					// It reconnects and gets the latest quote.
					slog.Warn("quote subscriber too slow, disconnecting")
					h.drop(s)
				}
			}
			n := len(h.subscribers)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// drop removes s and ends its write pump. h.mu must be held.
func (h *Hub) drop(s *subscriber) {
	delete(h.subscribers, s)
	close(s.send)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish queues a quote for broadcast. It never blocks the caller; when the
// queue is full the quote is dropped and the next one supersedes it.
func (h *Hub) Publish(q model.PriceQuote) {
	data, err := json.Marshal(QuoteMessage{Type: "quote", Quote: q})
	if err != nil {
		slog.Error("encode quote", "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("quote broadcast dropped, queue full")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /api/v1/ws and subscribes the connection to quotes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}
	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- s:
	case <-h.stopped:
		conn.Close()
		return
	}
	go h.writePump(s)
	go h.readPump(s)
}

// readPump discards client frames and notices disconnects.
func (h *Hub) readPump(s *subscriber) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.stopped:
		}
		s.conn.Close()
	}()
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
