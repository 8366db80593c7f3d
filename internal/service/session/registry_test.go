package session_test

import (
	"errors"
	"testing"

	"github.com/mwestphal/securechat/internal/service/relay"
	"github.com/mwestphal/securechat/internal/service/session"
	"github.com/mwestphal/securechat/internal/store"
)

func newRegistry(t *testing.T) *session.Registry {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	r := relay.New(&fakeChatModel{chunks: []string{"ok"}}, 0)
	return session.NewRegistry(func(username string) *session.Manager {
		return session.NewManager(username, r, st, "llama3.2", 0.7)
	})
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg := newRegistry(t)

	id, mgr := reg.Create("alice")
	if id == "" {
		t.Fatal("expected a session id")
	}
	if mgr.Username() != "alice" {
		t.Fatalf("unexpected session owner: %q", mgr.Username())
	}

	got, err := reg.Get(id, "alice")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got != mgr {
		t.Fatal("Get returned a different manager")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	reg := newRegistry(t)
	if _, err := reg.Get("missing", "alice"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryGetForeignUser(t *testing.T) {
	reg := newRegistry(t)
	id, _ := reg.Create("bob")

	if _, err := reg.Get(id, "alice"); !errors.Is(err, store.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := newRegistry(t)
	id, _ := reg.Create("alice")

	reg.Remove(id)
	if _, err := reg.Get(id, "alice"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after remove, got %v", err)
	}
}
