package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/johndosdos/relay/internal/model"
)

// Key format: msg/<20 digit sequence>. Sequence order is append order.
var (
	msgPrefix    = []byte("msg/")
	msgPrefixEnd = []byte("msg0") // '0' sorts right after '/'
)

// PebbleStore keeps one key per message in an embedded Pebble database.
// Every append is a single synced write, so an append either lands
// completely or not at all.
type PebbleStore struct {
	db  *pebble.DB
	mu  sync.Mutex
	seq uint64
}

// OpenPebble opens (or creates) a Pebble database in dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("pebble dir is empty")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, unavailable("open pebble "+dir, err)
	}

	s := &PebbleStore{db: db}
	if err := s.loadSeq(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	slog.Info("pebble store opened", "dir", dir, "seq", s.seq)
	return s, nil
}

func (s *PebbleStore) loadSeq() error {
	iter, err := s.db.NewIter(s.iterOptions())
	if err != nil {
		return unavailable("open iterator", err)
	}
	defer iter.Close() //nolint:errcheck

	if iter.Last() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return unavailable("read last key", err)
		}
		s.seq = seq
	}
	return nil
}

func (s *PebbleStore) ReadAll(ctx context.Context) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs := []model.Message{}
	err := s.scan(func(_ []byte, m model.Message) error {
		msgs = append(msgs, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *PebbleStore) Append(ctx context.Context, m model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return model.Message{}, unavailable("encode message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.seq + 1
	if err := s.db.Set(makeKey(next), data, pebble.Sync); err != nil {
		return model.Message{}, unavailable("append", err)
	}
	s.seq = next
	return m.Clone(), nil
}

func (s *PebbleStore) MarkRead(ctx context.Context, userID, otherUserID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close() //nolint:errcheck

	count := 0
	err := s.scan(func(key []byte, m model.Message) error {
		msgs := []model.Message{m}
		if len(markRead(msgs, userID, otherUserID)) == 0 {
			return nil
		}
		data, err := json.Marshal(msgs[0])
		if err != nil {
			return err
		}
		count++
		return b.Set(key, data, nil)
	})
	if err != nil {
		return 0, unavailable("mark read", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, unavailable("mark read", err)
	}
	return count, nil
}

func (s *PebbleStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close() //nolint:errcheck

	found := false
	err := s.scan(func(key []byte, m model.Message) error {
		if m.ID != id {
			return nil
		}
		found = true
		return b.Delete(key, nil)
	})
	if err != nil {
		return unavailable("delete", err)
	}
	if !found {
		return ErrNotFound
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// scan walks every message in key order. The key passed to fn is a copy.
func (s *PebbleStore) scan(fn func(key []byte, m model.Message) error) error {
	iter, err := s.db.NewIter(s.iterOptions())
	if err != nil {
		return unavailable("open iterator", err)
	}
	defer iter.Close() //nolint:errcheck

	for iter.First(); iter.Valid(); iter.Next() {
		var m model.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return unavailable(fmt.Sprintf("decode %s", iter.Key()), err)
		}
		key := append([]byte(nil), iter.Key()...)
		if err := fn(key, m); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return unavailable("iterate", err)
	}
	return nil
}

func (s *PebbleStore) iterOptions() *pebble.IterOptions {
	return &pebble.IterOptions{LowerBound: msgPrefix, UpperBound: msgPrefixEnd}
}

func makeKey(seq uint64) []byte {
	return fmt.Appendf(append([]byte(nil), msgPrefix...), "%020d", seq)
}

func parseKey(key []byte) (uint64, error) {
	if len(key) <= len(msgPrefix) {
		return 0, fmt.Errorf("malformed key %q", key)
	}
	return strconv.ParseUint(string(key[len(msgPrefix):]), 10, 64)
}
