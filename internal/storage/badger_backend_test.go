package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Benny93/graphflow-go/internal/graph"
)

func setupTestBadgerBackend(t *testing.T) *BadgerBackend {
	t.Helper()

	backend := NewBadgerBackend(zaptest.NewLogger(t))
	require.NoError(t, backend.Initialize(""))
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestBadgerBackend(t *testing.T) {
	t.Parallel()

	testBackendContract(t, func(t *testing.T) Backend {
		return setupTestBadgerBackend(t)
	})
}

func TestBadgerBackend_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("InMemory", func(t *testing.T) {
		t.Parallel()
		backend := NewBadgerBackend(nil)
		require.NoError(t, backend.Initialize(""))
		assert.NotNil(t, backend.db)
		assert.NoError(t, backend.Close())
		assert.NoError(t, backend.Close())
	})

	t.Run("ScratchDirIsWiped", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		dbPath := filepath.Join(t.TempDir(), "badger")

		first := NewBadgerBackend(zaptest.NewLogger(t))
		require.NoError(t, first.Initialize(dbPath))
		require.NoError(t, first.Set(ctx, 1, map[int16]graph.Value{0: graph.IntValue(1)}))
		require.NoError(t, first.Close())

		second := NewBadgerBackend(zaptest.NewLogger(t))
		require.NoError(t, second.Initialize(dbPath))
		defer second.Close()

		_, ok := second.Get(1, 0)
		assert.False(t, ok)
		assert.Equal(t, 0, second.Len())

		_, err := os.Stat(dbPath)
		assert.NoError(t, err)
	})
}

func TestBadgerBackend_ClosedReads(t *testing.T) {
	t.Parallel()

	backend := NewBadgerBackend(nil)
	require.NoError(t, backend.Initialize(""))
	require.NoError(t, backend.Close())

	_, ok := backend.Get(1, 0)
	assert.False(t, ok)
	assert.Nil(t, backend.Properties(1))
}

func TestPropsKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{'p', ':', 0, 0, 0, 0, 0, 0, 1, 2}, propsKey(258))
	assert.Less(t, string(propsKey(255)), string(propsKey(256)))
}
