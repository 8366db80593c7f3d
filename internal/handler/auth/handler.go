package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwestphal/securechat/internal/auth"
	"github.com/mwestphal/securechat/pkg/utils"
)

// Handler exposes login, logout and identity echo endpoints.
type Handler struct {
	gate *auth.Gate
}

// New creates the auth handler.
func New(gate *auth.Gate) *Handler {
	return &Handler{gate: gate}
}

// RegisterRoutes registers the unauthenticated auth endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
}

// RegisterProtectedRoutes registers endpoints that need a signed-in caller.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/auth/me", h.handleMe)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Username == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	name, ok := h.gate.Authenticate(payload.Username, payload.Password)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "username/password is incorrect")
		return
	}

	now := time.Now()
	http.SetCookie(w, &http.Cookie{
		Name:     h.gate.CookieName(),
		Value:    h.gate.IssueToken(payload.Username, now),
		Path:     "/",
		Expires:  now.Add(h.gate.Expiry()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	utils.RespondJSON(w, http.StatusOK, auth.Identity{
		Username:    payload.Username,
		DisplayName: name,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.gate.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "please sign in")
		return
	}
	utils.RespondJSON(w, http.StatusOK, id)
}
