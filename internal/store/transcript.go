package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mwestphal/securechat/internal/model/chat"
)

var (
	ErrNotFound         = errors.New("transcript not found")
	ErrPermissionDenied = errors.New("transcript owned by another user")
	ErrInvalidName      = errors.New("invalid transcript name")
)

const fileExt = ".json"

// FileStore persists transcripts as one JSON record per name under a single
// directory. Records are independent; there is no cross-record locking, and
// concurrent saves under the same name race last-writer-wins.
type FileStore struct {
	dir string
}

// NewFileStore creates the transcript directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the transcript under name, generating a fresh name when none is
// supplied. The write is a whole-record replace: content goes to a temporary
// file first and is renamed into place, so readers never observe a partial
// record. Returns the name used.
func (s *FileStore) Save(t *chat.Transcript, name string) (string, error) {
	if name == "" {
		name = GenerateName()
	} else if !validName(name) {
		return "", ErrInvalidName
	}

	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write transcript %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write transcript %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("replace transcript %s: %w", name, err)
	}
	return name, nil
}

// Load reads the record stored under name. It performs no ownership check;
// callers that disclose content must compare Owner themselves.
func (s *FileStore) Load(name string) (*chat.Transcript, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}

	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript %s: %w", name, err)
	}

	var t chat.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", name, err)
	}
	for _, msg := range t.Messages {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("decode transcript %s: unknown role %q", name, msg.Role)
		}
	}
	return &t, nil
}

// ListOwnedBy scans every record and returns the names owned by username,
// sorted. Records that fail to decode can never match and are skipped.
func (s *FileStore) ListOwnedBy(username string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan transcript dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), fileExt)
		t, err := s.Load(name)
		if err != nil {
			continue
		}
		if t.Owner == username {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the record irrevocably after verifying the requestor owns
// it. The removal is all-or-nothing; no partially-deleted record remains.
func (s *FileStore) Delete(name, requestor string) error {
	t, err := s.Load(name)
	if err != nil {
		return err
	}
	if t.Owner != requestor {
		return ErrPermissionDenied
	}
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove transcript %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// GenerateName returns a fresh transcript name, chat_ plus the first eight
// hex characters of a random UUID.
func GenerateName() string {
	return "chat_" + uuid.NewString()[:8]
}

func validName(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return false
	}
	return name != "." && name != ".."
}
