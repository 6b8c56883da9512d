package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStoreInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(Config{InMemory: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, ok, err := store.Get(ctx, "trees_state")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "trees_state", []byte(`{}`)))
	got, ok, err := store.Get(ctx, "trees_state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{}", string(got))

	require.NoError(t, store.Delete(ctx, "trees_state", "never-set"))
	_, ok, err = store.Get(ctx, "trees_state")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "auth_token", []byte("tok")))
	require.NoError(t, store.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, ok, err := reopened.Get(ctx, "auth_token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", string(got))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}
