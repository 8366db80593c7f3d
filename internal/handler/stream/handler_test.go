package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/mwestphal/securechat/internal/auth"
	handler "github.com/mwestphal/securechat/internal/handler/stream"
	"github.com/mwestphal/securechat/internal/service/relay"
	sessionservice "github.com/mwestphal/securechat/internal/service/session"
	"github.com/mwestphal/securechat/internal/store"
)

type fakeChatModel struct {
	chunks []string
	err    error
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(strings.Join(f.chunks, " "), nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range f.chunks {
			sw.Send(schema.AssistantMessage(c, nil), nil)
		}
		if f.err != nil {
			sw.Send(nil, f.err)
		}
	}()
	return sr, nil
}

func setup(t *testing.T, cm model.BaseChatModel) (*chi.Mux, *sessionservice.Registry) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	rel := relay.New(cm, 0)
	registry := sessionservice.NewRegistry(func(u string) *sessionservice.Manager {
		return sessionservice.NewManager(u, rel, st, "llama3.2", 0.7)
	})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithIdentity(req.Context(), auth.Identity{Username: "alice", DisplayName: "Alice"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	handler.New(registry).RegisterRoutes(r)
	return r, registry
}

// parseSSE decodes every data frame in an SSE body.
func parseSSE(t *testing.T, body string) []handler.StreamResponse {
	t.Helper()
	var frames []handler.StreamResponse
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame handler.StreamResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestStreamDeliversFragmentsInOrder(t *testing.T) {
	r, registry := setup(t, &fakeChatModel{chunks: []string{"Hi", "there!"}})
	id, mgr := registry.Create("alice")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+id+"?message=hello", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	frames := parseSSE(t, resp.Body.String())
	events := make([]string, 0, len(frames))
	var deltas []string
	var final string
	for _, frame := range frames {
		events = append(events, frame.Event)
		switch frame.Event {
		case "delta":
			deltas = append(deltas, frame.Content)
		case "message":
			final = frame.Content
		}
	}

	if events[0] != "start" || events[len(events)-1] != "end" {
		t.Fatalf("unexpected event envelope: %v", events)
	}
	if len(deltas) != 2 || deltas[0] != "Hi" || deltas[1] != "there!" {
		t.Fatalf("unexpected deltas: %v", deltas)
	}
	if final != "Hi there!" {
		t.Fatalf("unexpected final message: %q", final)
	}

	transcript := mgr.Transcript()
	if transcript.Len() != 2 || transcript.Messages[1].Content != "Hi there!" {
		t.Fatalf("unexpected transcript after stream: %+v", transcript.Messages)
	}
}

func TestStreamBackendFailureSendsErrorEvent(t *testing.T) {
	r, registry := setup(t, &fakeChatModel{chunks: []string{"part"}, err: errors.New("boom")})
	id, mgr := registry.Create("alice")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+id+"?message=hello", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	frames := parseSSE(t, resp.Body.String())
	last := frames[len(frames)-1]
	if last.Event != "error" {
		t.Fatalf("expected trailing error event, got %+v", last)
	}
	if strings.Contains(last.Error, "boom") {
		t.Fatalf("internal error leaked to caller: %q", last.Error)
	}

	// Atomicity: only the prompt survives the failed turn.
	if got := mgr.Transcript().Len(); got != 1 {
		t.Fatalf("expected 1 message after failed turn, got %d", got)
	}
}

func TestStreamRequiresMessage(t *testing.T) {
	r, registry := setup(t, &fakeChatModel{chunks: []string{"x"}})
	id, _ := registry.Create("alice")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+id, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStreamRejectsBadTemperature(t *testing.T) {
	r, registry := setup(t, &fakeChatModel{chunks: []string{"x"}})
	id, _ := registry.Create("alice")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+id+"?message=hi&temperature=hot", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStreamForeignSessionIs403(t *testing.T) {
	r, registry := setup(t, &fakeChatModel{chunks: []string{"x"}})
	id, _ := registry.Create("bob")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+id+"?message=hello", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}
