package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	eventBufferLen = 64
)

// WebSocketHandler streams engine events (units served, annotations
// submitted, jobs created) to admin dashboards
type WebSocketHandler struct {
	auth   interfaces.AuthService
	events interfaces.EventService
	logger arbor.ILogger
}

func NewWebSocketHandler(auth interfaces.AuthService, events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		auth:   auth,
		events: events,
		logger: logger,
	}
}

// HandleWebSocket upgrades the connection and forwards events until the
// client disconnects. Browsers cannot set headers on WS upgrades, so the
// bearer token comes in as ?token=.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, err := h.auth.VerifyToken(r.Context(), token)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !user.IsAdmin {
		WriteError(w, http.StatusUnauthorized, "admin access required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	events, cancel := h.events.Subscribe(eventBufferLen)
	h.logger.Info().Str("user", user.Name).Msg("WebSocket client connected")

	go h.readPump(conn, cancel)
	h.writePump(conn, events)

	h.logger.Info().Str("user", user.Name).Msg("WebSocket client disconnected")
}

// readPump drains client messages; we only care about close frames
func (h *WebSocketHandler) readPump(conn *websocket.Conn, cancel func()) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, events <-chan *models.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
