package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-project/eventbroker/pkg/model"
)

// backends returns one fresh instance of each Store implementation, named
// for subtest labeling. Both backends must satisfy the same contract.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := Open(Config{Path: filepath.Join(t.TempDir(), "broker.db"), BusyTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStore_S1_FIFOOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateStream(ctx, "s1"))

			for _, payload := range []string{"a", "b", "c"} {
				require.NoError(t, s.Append(ctx, "s1", "evt_"+payload, []byte(payload), 0))
			}

			events, err := s.PeekAll(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, "a", string(events[0].Data))
			assert.Equal(t, "b", string(events[1].Data))
			assert.Equal(t, "c", string(events[2].Data))
		})
	}
}

func TestStore_S2_BoundedRetention(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateStream(ctx, "s1"))

			for i := 1; i <= 5; i++ {
				require.NoError(t, s.Append(ctx, "s1", "evt", []byte{byte('0' + i)}, 3))
			}

			events, err := s.PeekAll(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, []byte{'3'}, events[0].Data)
			assert.Equal(t, []byte{'4'}, events[1].Data)
			assert.Equal(t, []byte{'5'}, events[2].Data)

			meta, err := s.Meta(ctx, "s1")
			require.NoError(t, err)
			assert.EqualValues(t, 3, meta.EventCount)
		})
	}
}

func TestStore_Uniqueness(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateStream(ctx, "dup"))
			err := s.CreateStream(ctx, "dup")
			assert.ErrorIs(t, err, model.ErrAlreadyExists)
		})
	}
}

func TestStore_DrainAllEmptiesStream(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateStream(ctx, "s1"))
			require.NoError(t, s.Append(ctx, "s1", "e1", []byte("x"), 0))

			drained, err := s.DrainAll(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, drained, 1)

			has, err := s.HasEvents(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestStore_AppendToMissingStreamFails(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Append(context.Background(), "missing", "e1", []byte("x"), 0)
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestStore_ConcurrentAppendsSameStreamNoGaps(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateStream(ctx, "s1"))

			const n = 50
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_ = s.Append(ctx, "s1", "e", []byte{byte(i)}, 0)
				}(i)
			}
			wg.Wait()

			events, err := s.PeekAll(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, events, n)

			meta, err := s.Meta(ctx, "s1")
			require.NoError(t, err)
			assert.EqualValues(t, n, meta.EventCount)
		})
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateStream(ctx, "old"))
			require.NoError(t, s.CreateStream(ctx, "fresh"))

			removed, err := s.CleanupExpired(ctx, time.Now().Add(time.Hour), time.Minute)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"old", "fresh"}, removed)

			_, err = s.Meta(ctx, "old")
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestStore_DeleteStreamIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.DeleteStream(ctx, "never-existed"))
		})
	}
}
