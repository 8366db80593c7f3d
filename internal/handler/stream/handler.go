package stream

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mwestphal/securechat/internal/auth"
	sessionservice "github.com/mwestphal/securechat/internal/service/session"
	"github.com/mwestphal/securechat/internal/store"
	"github.com/mwestphal/securechat/pkg/utils"
)

// Handler streams turn responses over Server-Sent Events.
type Handler struct {
	registry *sessionservice.Registry
}

// New creates the stream handler.
func New(registry *sessionservice.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// StreamResponse is one SSE frame.
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleStream runs one turn for the addressed session, forwarding fragments
// as delta events while they arrive and closing with the assembled message.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "please sign in")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	mgr, err := h.registry.Get(sessionID, id.Username)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, store.ErrPermissionDenied) {
			status = http.StatusForbidden
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	prompt := r.URL.Query().Get("message")
	if prompt == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	opts, err := turnOptions(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})

	reply, err := mgr.SubmitTurn(r.Context(), prompt, opts, func(fragment string) error {
		utils.SendSSEChunk(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   fragment,
		})
		return nil
	})
	if err != nil {
		// The turn failed; the transcript keeps only the user prompt.
		log.Printf("[stream] turn failed for session=%s: %v", sessionID, err)
		utils.SendSSEChunk(w, flusher, StreamResponse{
			Event: "error",
			Error: turnErrorMessage(err),
		})
		return
	}

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   reply.Content,
	})
	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	})

	log.Printf("[stream] completed turn for session=%s user=%s", sessionID, id.Username)
}

func turnOptions(r *http.Request) (sessionservice.TurnOptions, error) {
	opts := sessionservice.TurnOptions{Model: r.URL.Query().Get("model")}

	if raw := r.URL.Query().Get("temperature"); raw != "" {
		val, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return sessionservice.TurnOptions{}, errors.New("temperature must be a number")
		}
		t := float32(val)
		opts.Temperature = &t
	}
	return opts, nil
}

func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, sessionservice.ErrTurnActive):
		return "another response is still streaming"
	case errors.Is(err, sessionservice.ErrEmptyPrompt):
		return "message must not be empty"
	default:
		return "the model backend failed to answer, please try again"
	}
}
