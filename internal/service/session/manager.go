package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/mwestphal/securechat/internal/model/chat"
	"github.com/mwestphal/securechat/internal/service/relay"
	"github.com/mwestphal/securechat/internal/store"
)

var (
	ErrTurnActive  = errors.New("a turn is already streaming in this session")
	ErrEmptyPrompt = errors.New("prompt must not be empty")
)

// FragmentFunc receives response fragments as they arrive. Returning an
// error aborts the turn.
type FragmentFunc func(fragment string) error

// TurnOptions override the configured model defaults for a single turn.
type TurnOptions struct {
	Model       string
	Temperature *float32
}

// Manager owns the in-memory transcript of one active session and sequences
// its turns and storage boundaries. Operations within a session are strictly
// sequential: at most one turn streams at a time, and structural operations
// refuse to run while one does.
type Manager struct {
	username string
	relay    *relay.Relay
	store    *store.FileStore

	defaultModel string
	defaultTemp  float32

	mu         sync.Mutex
	transcript *chat.Transcript
	savedName  string
	streaming  bool
}

// NewManager creates a session for username with an empty transcript.
func NewManager(username string, r *relay.Relay, st *store.FileStore, defaultModel string, defaultTemp float32) *Manager {
	return &Manager{
		username:     username,
		relay:        r,
		store:        st,
		defaultModel: defaultModel,
		defaultTemp:  defaultTemp,
		transcript:   chat.NewTranscript(username),
	}
}

// Username returns the owner of this session.
func (m *Manager) Username() string {
	return m.username
}

// Transcript returns a snapshot of the in-memory transcript.
func (m *Manager) Transcript() *chat.Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript.Clone()
}

// SubmitTurn runs one prompt/response cycle. The user prompt is appended
// before the backend call so it survives a failed turn; fragments are
// forwarded to deliver as they arrive. The assistant message is appended
// only when the stream completes: a failure at any point, cancellation
// included, discards partial content and leaves the transcript with just
// the prompt.
func (m *Manager) SubmitTurn(ctx context.Context, prompt string, opts TurnOptions, deliver FragmentFunc) (chat.Message, error) {
	if prompt == "" {
		return chat.Message{}, ErrEmptyPrompt
	}

	m.mu.Lock()
	if m.streaming {
		m.mu.Unlock()
		return chat.Message{}, ErrTurnActive
	}
	m.streaming = true
	m.transcript.Append(chat.RoleUser, prompt)
	history := m.transcript.Clone().Messages
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.streaming = false
		m.mu.Unlock()
	}()

	modelName := m.defaultModel
	if opts.Model != "" {
		modelName = opts.Model
	}
	temperature := clampTemperature(m.defaultTemp, opts.Temperature)

	stream, err := m.relay.Execute(ctx, modelName, temperature, history)
	if err != nil {
		return chat.Message{}, err
	}
	defer stream.Close()

	for {
		fragment, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return chat.Message{}, recvErr
		}
		if deliver != nil {
			if err := deliver(fragment); err != nil {
				return chat.Message{}, fmt.Errorf("deliver fragment: %w", err)
			}
		}
	}

	final, ok := stream.Final()
	if !ok {
		return chat.Message{}, fmt.Errorf("model stream ended without completion")
	}

	reply := chat.Message{Role: chat.RoleAssistant, Content: final}
	m.mu.Lock()
	m.transcript.Messages = append(m.transcript.Messages, reply)
	m.mu.Unlock()
	return reply, nil
}

// StartNew persists a non-empty transcript and replaces it with an empty one
// owned by the same user. Unsaved transcripts get a freshly generated name;
// a transcript loaded from storage is written back under its own name. The
// reset happens even when the save fails: persistence is best-effort here
// and must not block conversational progress. Returns the name the old
// transcript was saved under, if any.
func (m *Manager) StartNew() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streaming {
		return "", ErrTurnActive
	}

	var name string
	var saveErr error
	if m.transcript.Len() > 0 {
		name, saveErr = m.store.Save(m.transcript, m.savedName)
		if saveErr != nil {
			log.Printf("warning: [session] failed to save transcript for %s: %v", m.username, saveErr)
		}
	}

	m.transcript = chat.NewTranscript(m.username)
	m.savedName = ""
	return name, saveErr
}

// Save persists the current transcript under name, or under a generated name
// when none is given. Returns the name used.
func (m *Manager) Save(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streaming {
		return "", ErrTurnActive
	}

	saved, err := m.store.Save(m.transcript, name)
	if err != nil {
		return "", err
	}
	m.savedName = saved
	return saved, nil
}

// LoadExisting replaces the in-memory transcript with a stored one. The
// caller must own the record. Any unsaved current transcript is discarded;
// callers wanting to keep it save first via StartNew or Save.
func (m *Manager) LoadExisting(name string) (*chat.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streaming {
		return nil, ErrTurnActive
	}

	t, err := m.store.Load(name)
	if err != nil {
		return nil, err
	}
	if t.Owner != m.username {
		return nil, store.ErrPermissionDenied
	}

	m.transcript = t
	m.savedName = name
	return t.Clone(), nil
}

// DeleteExisting removes a stored transcript owned by this user. Deletion
// only affects durable storage; the in-memory transcript is untouched, but
// the active saved name is forgotten when it names the deleted record so a
// later implicit save does not resurrect it.
func (m *Manager) DeleteExisting(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streaming {
		return ErrTurnActive
	}

	if err := m.store.Delete(name, m.username); err != nil {
		return err
	}
	if name == m.savedName {
		m.savedName = ""
	}
	return nil
}

// ListMine returns the names of every stored transcript owned by this user.
func (m *Manager) ListMine() ([]string, error) {
	return m.store.ListOwnedBy(m.username)
}

func clampTemperature(fallback float32, override *float32) float32 {
	t := fallback
	if override != nil {
		t = *override
	}
	if t < 0 {
		return 0
	}
	if t > 2 {
		return 2
	}
	return t
}
