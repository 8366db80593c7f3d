package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mwestphal/securechat/internal/auth"
	handler "github.com/mwestphal/securechat/internal/handler/auth"
)

func setup(t *testing.T) *chi.Mux {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt err: %v", err)
	}

	gate := auth.NewGate(&auth.Config{
		Credentials: auth.Credentials{
			Usernames: map[string]auth.UserRecord{
				"alice": {Name: "Alice Smith", PasswordHash: string(hash)},
			},
		},
		Cookie: auth.CookieConfig{Name: "securechat_auth", Key: "test-key", ExpiryDays: 1},
	})

	h := handler.New(gate)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	r.Group(func(protected chi.Router) {
		protected.Use(gate.RequireAuth)
		h.RegisterProtectedRoutes(protected)
	})
	return r
}

func login(t *testing.T, r http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestLoginSetsCookie(t *testing.T) {
	r := setup(t)
	resp := login(t, r, "alice", "s3cret")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var id auth.Identity
	if err := json.Unmarshal(resp.Body.Bytes(), &id); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if id.Username != "alice" || id.DisplayName != "Alice Smith" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "securechat_auth" || cookies[0].Value == "" {
		t.Fatalf("expected auth cookie, got %+v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Fatal("auth cookie must be http-only")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	r := setup(t)
	if resp := login(t, r, "alice", "nope"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp := login(t, r, "mallory", "s3cret"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestMeRequiresCookie(t *testing.T) {
	r := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", resp.Code)
	}

	loginResp := login(t, r, "alice", "s3cret")
	cookie := loginResp.Result().Cookies()[0]

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with cookie, got %d", resp.Code)
	}
	var id auth.Identity
	if err := json.Unmarshal(resp.Body.Bytes(), &id); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if id.Username != "alice" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	r := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
}
