package ws

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mwestphal/securechat/internal/auth"
	sessionservice "github.com/mwestphal/securechat/internal/service/session"
	"github.com/mwestphal/securechat/internal/store"
)

// Handler runs turns over a bidirectional WebSocket: the client submits
// prompts and receives fragment frames on the same connection.
type Handler struct {
	registry *sessionservice.Registry
	upgrader websocket.Upgrader
}

// New creates the websocket handler.
func New(registry *sessionservice.Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleSocket)
}

type inboundMessage struct {
	Type        string   `json:"type"`
	Content     string   `json:"content"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "please sign in", http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	mgr, err := h.registry.Get(sessionID, id.Username)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, store.ErrPermissionDenied) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] connection opened for session=%s user=%s", sessionID, id.Username)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] connection lost for session=%s: %v", sessionID, err)
			}
			return
		}

		switch inbound.Type {
		case "prompt":
			h.runTurn(r, conn, mgr, inbound)
		default:
			h.send(conn, outgoingMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

// runTurn executes one prompt/response cycle on the connection. Turns stay
// strictly sequential: the read loop does not continue until the turn ends.
func (h *Handler) runTurn(r *http.Request, conn *websocket.Conn, mgr *sessionservice.Manager, inbound inboundMessage) {
	opts := sessionservice.TurnOptions{
		Model:       inbound.Model,
		Temperature: inbound.Temperature,
	}

	reply, err := mgr.SubmitTurn(r.Context(), inbound.Content, opts, func(fragment string) error {
		return h.send(conn, outgoingMessage{Type: "delta", Content: fragment})
	})
	if err != nil {
		h.send(conn, outgoingMessage{Type: "error", Error: turnErrorMessage(err)})
		return
	}

	h.send(conn, outgoingMessage{Type: "message", Content: reply.Content})
	h.send(conn, outgoingMessage{Type: "done"})
}

func (h *Handler) send(conn *websocket.Conn, msg outgoingMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write failed: %v", err)
		return err
	}
	return nil
}

func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, sessionservice.ErrTurnActive):
		return "another response is still streaming"
	case errors.Is(err, sessionservice.ErrEmptyPrompt):
		return "prompt must not be empty"
	default:
		return "the model backend failed to answer, please try again"
	}
}
