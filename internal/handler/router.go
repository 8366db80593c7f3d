package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mwestphal/securechat/internal/auth"
	authHandler "github.com/mwestphal/securechat/internal/handler/auth"
	sessionHandler "github.com/mwestphal/securechat/internal/handler/session"
	streamHandler "github.com/mwestphal/securechat/internal/handler/stream"
	wsHandler "github.com/mwestphal/securechat/internal/handler/ws"
	sessionService "github.com/mwestphal/securechat/internal/service/session"
)

// NewRouter wires HTTP routes to core services. Everything under /api except
// login and logout requires a valid auth cookie.
func NewRouter(gate *auth.Gate, registry *sessionService.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	authH := authHandler.New(gate)
	sessionH := sessionHandler.New(registry)
	streamH := streamHandler.New(registry)
	wsH := wsHandler.New(registry)

	r.Route("/api", func(api chi.Router) {
		authH.RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(gate.RequireAuth)

			authH.RegisterProtectedRoutes(protected)
			sessionH.RegisterRoutes(protected)
			streamH.RegisterRoutes(protected)
			wsH.RegisterRoutes(protected)
		})
	})

	return r
}
