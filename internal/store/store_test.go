package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Behaviour every driver has to share.
func TestStoreDrivers(t *testing.T) {
	drivers := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{"file", func(t *testing.T) Store {
			s, err := Open(Options{Driver: DriverFile, MessagesFile: filepath.Join(t.TempDir(), "messages.json")})
			require.NoError(t, err)
			return s
		}},
		{"pebble", func(t *testing.T) Store {
			s, err := Open(Options{Driver: DriverPebble, PebbleDir: filepath.Join(t.TempDir(), "pebble")})
			require.NoError(t, err)
			return s
		}},
	}

	for _, d := range drivers {
		t.Run(d.name, func(t *testing.T) {
			ctx := context.Background()
			s := d.open(t)
			t.Cleanup(func() { _ = s.Close() })

			t.Run("append keeps order", func(t *testing.T) {
				for _, id := range []string{"a", "b", "c"} {
					_, err := s.Append(ctx, newMessage(id, "u1", "u2"))
					require.NoError(t, err)
				}
				msgs, err := s.ReadAll(ctx)
				require.NoError(t, err)
				require.Len(t, msgs, 3)
				assert.Equal(t, "a", msgs[0].ID)
				assert.Equal(t, "c", msgs[2].ID)
			})

			t.Run("mark read", func(t *testing.T) {
				_, err := s.Append(ctx, newMessage("d", "u2", "u1"))
				require.NoError(t, err)

				// u2 reads messages from u1.
				n, err := s.MarkRead(ctx, "u2", "u1")
				require.NoError(t, err)
				assert.Equal(t, 3, n)

				n, err = s.MarkRead(ctx, "u2", "u1")
				require.NoError(t, err)
				assert.Zero(t, n)

				msgs, err := s.ReadAll(ctx)
				require.NoError(t, err)
				for _, m := range msgs {
					assert.Equal(t, m.SenderID == "u1", m.Read, "message %s", m.ID)
				}
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, s.Delete(ctx, "b"))
				assert.ErrorIs(t, s.Delete(ctx, "b"), ErrNotFound)

				msgs, err := s.ReadAll(ctx)
				require.NoError(t, err)
				ids := make([]string, 0, len(msgs))
				for _, m := range msgs {
					ids = append(ids, m.ID)
				}
				assert.Equal(t, []string{"a", "c", "d"}, ids)
			})
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "redis"})
	assert.Error(t, err)
}

func TestPebbleStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "pebble")

	s, err := OpenPebble(dir)
	require.NoError(t, err)
	_, err = s.Append(ctx, newMessage("m1", "u1", "u2"))
	require.NoError(t, err)
	_, err = s.Append(ctx, newMessage("m2", "u1", "u2"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenPebble(dir)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	assert.Equal(t, uint64(2), s.seq)
	_, err = s.Append(ctx, newMessage("m3", "u1", "u2"))
	require.NoError(t, err)

	msgs, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[2].ID)
}

func TestPebbleKeys(t *testing.T) {
	key := makeKey(42)
	assert.Equal(t, "msg/00000000000000000042", string(key))

	seq, err := parseKey(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	_, err = parseKey([]byte("msg/"))
	assert.Error(t, err)
}
