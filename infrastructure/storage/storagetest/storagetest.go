// Package storagetest checks that a domain.RunStore behaves like the others.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/reqprof/domain"
)

// Graph returns a call graph with recognizable payloads.
func Graph(withHeap bool) *domain.CallGraph {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	g := &domain.CallGraph{
		Started: started,
		Stopped: started.Add(1250 * time.Millisecond),
		CPU:     []byte("cpu-profile"),
		Memory:  domain.MemoryDelta{AllocBytes: 4096, Mallocs: 12, Frees: 3, GCCycles: 1},
	}
	if withHeap {
		g.Heap = []byte("heap-profile")
	}
	return g
}

// Run exercises store. The store must be empty.
func Run(t *testing.T, store domain.RunStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		id, err := store.SaveRun(ctx, Graph(true), "ns-get")
		require.NoError(t, err)
		assert.Len(t, id, 32)

		got, err := store.GetRun(ctx, id, "ns-get")
		require.NoError(t, err)
		assert.Equal(t, []byte("cpu-profile"), got.CPU)
		assert.Equal(t, []byte("heap-profile"), got.Heap)
		assert.Equal(t, 1250*time.Millisecond, got.Wall())
		assert.Equal(t, uint64(4096), got.Memory.AllocBytes)
		assert.Equal(t, uint32(1), got.Memory.GCCycles)
	})

	t.Run("ids are unique", func(t *testing.T) {
		a, err := store.SaveRun(ctx, Graph(false), "ns-unique")
		require.NoError(t, err)
		b, err := store.SaveRun(ctx, Graph(false), "ns-unique")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("namespace scopes runs", func(t *testing.T) {
		id, err := store.SaveRun(ctx, Graph(false), "ns-a")
		require.NoError(t, err)

		_, err = store.GetRun(ctx, id, "ns-b")
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("missing run", func(t *testing.T) {
		_, err := store.GetRun(ctx, "0123456789abcdef0123456789abcdef", "ns-missing")
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		var ids []string
		for i := 0; i < 3; i++ {
			id, err := store.SaveRun(ctx, Graph(i == 2), "ns-list")
			require.NoError(t, err)
			ids = append(ids, id)
			time.Sleep(2 * time.Millisecond)
		}

		runs, err := store.ListRuns(ctx, "ns-list", 0)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, ids[2], runs[0].ID)
		assert.Equal(t, ids[0], runs[2].ID)
		assert.True(t, runs[0].HasHeap)
		assert.False(t, runs[1].HasHeap)
		assert.Equal(t, "ns-list", runs[0].Namespace)
		assert.Equal(t, 1250*time.Millisecond, runs[0].Wall)
		assert.False(t, runs[0].CreatedAt.IsZero())

		limited, err := store.ListRuns(ctx, "ns-list", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, ids[2], limited[0].ID)

		none, err := store.ListRuns(ctx, "ns-empty", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
