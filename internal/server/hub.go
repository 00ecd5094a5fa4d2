package server

import (
	"sync"
	"time"

	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// overlayMessage is pushed to websocket clients after every render.
type overlayMessage struct {
	Boxes  []types.OverlayBox `json:"boxes"`
	Width  int                `json:"width"`
	Height int                `json:"height"`
}

// hub fans rendered box sets out to websocket clients. Slow clients drop
// messages rather than stall the renderer.
type hub struct {
	log *logrus.Entry

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan overlayMessage
}

func newHub(log *logrus.Entry) *hub {
	return &hub{log: log, clients: make(map[*client]struct{})}
}

func (h *hub) broadcast(msg overlayMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan overlayMessage, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve pumps messages to one client until it disconnects.
func (h *hub) serve(conn *websocket.Conn) {
	c := h.add(conn)
	h.log.WithField("clients", h.count()).Debug("overlay client connected")

	// Reader: only needed to process control frames and notice disconnects
	go func() {
		defer h.remove(c)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
