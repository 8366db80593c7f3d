package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/mwestphal/securechat/pkg/utils"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Username    string `json:"username"`
	DisplayName string `json:"name"`
}

type contextKey struct{}

// WithIdentity stores the caller identity in a context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom retrieves the caller identity stored by RequireAuth.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// RequireAuth rejects requests without a valid auth cookie and attaches the
// resolved identity to the request context.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(g.CookieName())
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "please sign in")
			return
		}

		username, ok := g.ParseToken(cookie.Value, time.Now())
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "session expired, please sign in again")
			return
		}

		id := Identity{Username: username, DisplayName: g.DisplayName(username)}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
