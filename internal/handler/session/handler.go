package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwestphal/securechat/internal/auth"
	sessionservice "github.com/mwestphal/securechat/internal/service/session"
	"github.com/mwestphal/securechat/internal/store"
	"github.com/mwestphal/securechat/pkg/utils"
)

// Handler exposes session lifecycle and transcript storage endpoints.
type Handler struct {
	registry *sessionservice.Registry
}

// New creates the session handler.
func New(registry *sessionservice.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers the session routes. All of them expect an
// authenticated caller in context.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreate)
	r.Get("/session/{sessionID}/transcript", h.handleTranscript)
	r.Post("/session/{sessionID}/new", h.handleStartNew)
	r.Post("/session/{sessionID}/save", h.handleSave)
	r.Post("/session/{sessionID}/load", h.handleLoad)
	r.Get("/session/{sessionID}/chats", h.handleList)
	r.Delete("/session/{sessionID}/chats/{name}", h.handleDelete)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "please sign in")
		return
	}

	sessionID, _ := h.registry.Create(id.Username)
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.resolve(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, mgr.Transcript())
}

func (h *Handler) handleStartNew(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.resolve(w, r)
	if !ok {
		return
	}

	saved, err := mgr.StartNew()
	if errors.Is(err, sessionservice.ErrTurnActive) {
		utils.RespondError(w, http.StatusConflict, userMessage(err))
		return
	}

	// The reset succeeded even when the implicit save did not; report the
	// save failure as a warning rather than an error.
	payload := map[string]string{"status": "new chat started"}
	if saved != "" {
		payload["savedAs"] = saved
	}
	if err != nil {
		payload["warning"] = "previous chat could not be saved"
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var payload struct {
		Name string `json:"name"`
	}
	if r.Body != nil {
		// An empty body means "generate a name".
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}

	saved, err := mgr.Save(payload.Name)
	if err != nil {
		utils.RespondError(w, statusFor(err), userMessage(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"name": saved})
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Name == "" {
		utils.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	transcript, err := mgr.LoadExisting(payload.Name)
	if err != nil {
		utils.RespondError(w, statusFor(err), userMessage(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, transcript)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.resolve(w, r)
	if !ok {
		return
	}

	names, err := mgr.ListMine()
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list saved chats")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"chats": names})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.resolve(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	if err := mgr.DeleteExisting(name); err != nil {
		utils.RespondError(w, statusFor(err), userMessage(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

// resolve looks up the addressed session for the authenticated caller and
// writes the error response itself when that fails.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*sessionservice.Manager, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "please sign in")
		return nil, false
	}

	mgr, err := h.registry.Get(chi.URLParam(r, "sessionID"), id.Username)
	if err != nil {
		utils.RespondError(w, statusFor(err), userMessage(err))
		return nil, false
	}
	return mgr, true
}

// userMessage maps an error to its caller-facing description. Storage
// failures stay generic so internal paths never reach the caller.
func userMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "chat not found"
	case errors.Is(err, sessionservice.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, store.ErrPermissionDenied):
		return "you don't have permission to access this chat"
	case errors.Is(err, store.ErrInvalidName):
		return "invalid chat name"
	case errors.Is(err, sessionservice.ErrTurnActive):
		return "another response is still streaming"
	default:
		return "storage operation failed"
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sessionservice.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, sessionservice.ErrTurnActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
