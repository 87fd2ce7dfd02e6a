package linktransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// wsSession adapts a *websocket.Conn to Session, reading/writing binary
// frames. Grounded on the teacher's internal/websocket/hub.go Client, whose
// readPump/writePump goroutines this type's Hub below mirrors.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketSession wraps a fiber websocket connection as a Session.
func NewWebSocketSession(conn *websocket.Conn) Session {
	return &wsSession{conn: conn}
}

func (w *wsSession) Read(p []byte) (int, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	return n, nil
}

func (w *wsSession) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsSession) Close() error {
	return w.conn.Close()
}

// link pairs one connected client with its Transport, the configuration-link
// equivalent of the teacher's websocket Client/Hub pairing.
type link struct {
	id        string
	transport *Transport
}

// Hub tracks every connected configuration-link client and lets the Command
// Handler push config-change notifications out to all of them. Register/
// unregister run through channels exactly as the teacher's Hub does, so the
// client map only ever mutates on the hub's own goroutine.
type Hub struct {
	links      map[string]*link
	register   chan *link
	unregister chan *link
	broadcast  chan []byte
	mu         sync.RWMutex
	log        *zap.Logger
}

// NewHub creates an empty configuration-link hub.
func NewHub() *Hub {
	return &Hub{
		links:      make(map[string]*link),
		register:   make(chan *link),
		unregister: make(chan *link),
		broadcast:  make(chan []byte, 256),
		log:        zap.NewNop(),
	}
}

// WithLogger attaches a structured logger.
func (h *Hub) WithLogger(log *zap.Logger) *Hub {
	h.log = log
	return h
}

// Run drives the hub's register/unregister/broadcast loop until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-h.register:
			h.mu.Lock()
			h.links[l.id] = l
			h.mu.Unlock()
		case l := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.links[l.id]; ok {
				delete(h.links, l.id)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, l := range h.links {
				sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				if err := l.transport.Send(sendCtx, msg); err != nil {
					h.log.Warn("broadcast to link failed", zap.String("link", l.id), zap.Error(err))
				}
				cancel()
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues msg for delivery to every connected link (e.g. a
// config-change notification the Command Handler pushes out).
func (h *Hub) Broadcast(msg []byte) {
	h.broadcast <- msg
}

// Count reports the number of connected links (diagnostics/tests).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.links)
}

// Handle runs one connection end to end: negotiates MTU, registers it with
// the hub, serves inbound messages to dispatcher until the connection
// closes, then unregisters. It blocks for the connection's lifetime, the
// same shape as the teacher's HandleWebSocket+readPump.
func (h *Hub) Handle(ctx context.Context, conn *websocket.Conn, dispatcher Dispatcher, peerMTU int) error {
	session := NewWebSocketSession(conn)
	t := NewTransport(session, dispatcher).WithLogger(h.log)
	t.Negotiate(peerMTU)

	l := &link{id: fmt.Sprintf("link-%p", conn), transport: t}
	h.register <- l
	defer func() { h.unregister <- l }()

	return t.RunInbound(ctx)
}
