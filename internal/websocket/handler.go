package websocket

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades quote document connections and feeds them to the
// presence manager.
type Handler struct {
	manager *presence.Manager
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewHandler(manager *presence.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
		conns:   make(map[*Conn]struct{}),
	}
}

// HandleQuote serves GET /ws/quote/{documentId}.
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentId")
	if documentID == "" {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}
	params := presence.ParseConnectParams(r.URL.Query(), r.UserAgent())

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("document_id", documentID).Msg("WebSocket upgrade failed")
		return
	}

	conn := newConn(ws, h.logger.With().Str("document_id", documentID).Logger())
	h.track(conn)
	go conn.writePump()

	if err := h.manager.Connect(documentID, conn, params); err != nil {
		h.logger.Warn().Err(err).Str("document_id", documentID).Msg("Rejecting connection")
		conn.Close()
		h.untrack(conn)
		return
	}

	conn.readPump(func(data []byte) {
		if err := h.manager.Message(documentID, conn, data); err != nil {
			conn.Close()
		}
	})

	// Disconnect runs before Close so a hub restored from hibernation still
	// finds this socket and reports the departure.
	_ = h.manager.Disconnect(documentID, conn)
	conn.Close()
	h.untrack(conn)
}

// CloseAll closes every open connection. Used on shutdown, after which
// clients reconnect to another instance.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Handler) track(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}
