package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	payload := []byte(`{"1":"a"}`)
	require.NoError(t, store.Set(ctx, "tree_nft_images", payload))
	payload[0] = 'x'

	got, ok, err := store.Get(ctx, "tree_nft_images")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"1":"a"}`, string(got), "stored payload must not alias the caller's slice")

	got[0] = 'y'
	again, _, _ := store.Get(ctx, "tree_nft_images")
	assert.Equal(t, `{"1":"a"}`, string(again), "returned payload must be a copy")

	require.NoError(t, store.Set(ctx, "user", []byte(`{}`)))
	assert.Equal(t, []string{"tree_nft_images", "user"}, store.Keys())

	require.NoError(t, store.Delete(ctx, "tree_nft_images", "never-set"))
	assert.Equal(t, []string{"user"}, store.Keys())
	require.NoError(t, store.Close())
}
