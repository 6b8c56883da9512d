package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/internal/blob/core"
)

func TestStoreMockedPhotoFlow(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	assert.Equal(t, core.DriverS3, store.Driver())
	assert.Equal(t, "mock-bucket", store.Bucket())

	info, err := store.Put(ctx, "photos/p1", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "photos/p1", info.Key)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)
	assert.Equal(t, "etag123", info.ETag)

	_, err = store.Put(ctx, "photos/p1", bytes.NewReader([]byte("again")), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	_, rc, err := store.Get(ctx, "photos/p1")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	_ = rc.Close()
	assert.Equal(t, "hello", string(body))

	list, err := store.List(ctx, "photos/")
	require.NoError(t, err)
	require.Len(t, list, 1)

	url, err := store.PresignURL(ctx, "photos/p1", core.SignedURLOptions{Expiry: time.Minute})
	require.NoError(t, err)
	assert.True(t, strings.Contains(url, "photos/p1"), url)

	ok, err := store.Delete(ctx, "photos/p1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Delete(ctx, "photos/p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreMissingKeyMapsToNotExist(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	_, err := store.Head(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotExist)
	_, _, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotExist)
	_, err = store.PresignURL(ctx, "nope", core.SignedURLOptions{Method: "PUT"})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	store, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "b", store.Bucket())
}

func TestDecodeChunkedHelper(t *testing.T) {
	_, ok := decodeChunkedLite([]byte("x"))
	assert.False(t, ok)
	_, ok = decodeChunkedLite([]byte("2\r\nhello\r\n0\r\n"))
	assert.False(t, ok)
	got, ok := decodeChunkedLite([]byte("5\r\nhello\r\n0\r\n"))
	require.True(t, ok)
	assert.Equal(t, "hello", string(got))
}
