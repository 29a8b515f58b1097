package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/johndosdos/relay/internal/model"
)

// FileStore keeps the log as a single JSON array on disk. Every operation
// holds mu, so inside one process there is exactly one writer. Rewrites go
// through a temp file and a rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the parent directory and an empty log if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("messages file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, unavailable("create data dir", err)
	}
	s := &FileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.writeLocked([]model.Message{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) ReadAll(ctx context.Context) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *FileStore) Append(ctx context.Context, m model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readLocked()
	if err != nil {
		return model.Message{}, err
	}
	m = m.Clone()
	if err := s.writeLocked(append(msgs, m)); err != nil {
		return model.Message{}, err
	}
	return m, nil
}

func (s *FileStore) MarkRead(ctx context.Context, userID, otherUserID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	changed := markRead(msgs, userID, otherUserID)
	if len(changed) == 0 {
		return 0, nil
	}
	if err := s.writeLocked(msgs); err != nil {
		return 0, err
	}
	return len(changed), nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readLocked()
	if err != nil {
		return err
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(msgs) {
		return ErrNotFound
	}
	return s.writeLocked(kept)
}

func (s *FileStore) Close() error { return nil }

// readLocked treats a missing or blank file as an empty log and recreates it.
func (s *FileStore) readLocked() ([]model.Message, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("messages file missing, creating empty log", "path", s.path)
		if err := s.writeLocked([]model.Message{}); err != nil {
			return nil, err
		}
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, unavailable("read "+s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []model.Message{}, nil
	}

	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, unavailable("parse "+s.path, err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

func (s *FileStore) writeLocked(msgs []model.Message) error {
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return unavailable("encode log", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return unavailable("create temp file", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close() //nolint:errcheck
		return unavailable("chmod temp file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return unavailable("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return unavailable("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("close temp file", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return unavailable("replace "+s.path, err)
	}
	return nil
}
