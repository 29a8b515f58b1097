// Package store persists the message log.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/johndosdos/relay/internal/model"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("message not found")
)

// Store is an append-only message log. Appends are the only mutation the
// relay performs; MarkRead and Delete serve the REST surface.
type Store interface {
	ReadAll(ctx context.Context) ([]model.Message, error)
	Append(ctx context.Context, m model.Message) (model.Message, error)
	MarkRead(ctx context.Context, userID, otherUserID string) (int, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

const (
	DriverFile   = "file"
	DriverPebble = "pebble"
)

// Options selects and configures a store driver.
type Options struct {
	Driver       string
	MessagesFile string
	PebbleDir    string
}

// Open returns the store selected by opts.Driver.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverFile:
		return NewFileStore(opts.MessagesFile)
	case DriverPebble:
		return OpenPebble(opts.PebbleDir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// markRead flips the read flag on every unread message sent by otherUserID
// to userID and reports which indexes changed.
func markRead(msgs []model.Message, userID, otherUserID string) []int {
	var changed []int
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID == otherUserID && m.ReceiverID == userID && !m.Read {
			m.Read = true
			changed = append(changed, i)
		}
	}
	return changed
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
