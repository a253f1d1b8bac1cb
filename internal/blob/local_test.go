package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	obj, err := store.Upload(ctx, []byte("solid splint"), "splint.stl", "model/stl")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(obj.URL, "/blobs/"))
	assert.True(t, strings.HasSuffix(obj.Pathname, "/splint.stl"))
	assert.Equal(t, "model/stl", obj.ContentType)
	assert.Equal(t, int64(12), obj.Size)

	data, err := store.Open(ctx, obj.Pathname)
	require.NoError(t, err)
	assert.Equal(t, []byte("solid splint"), data)
}

func TestLocalStoreDistinctUploadsDoNotCollide(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Upload(ctx, []byte("one"), "result.stl", "model/stl")
	require.NoError(t, err)
	second, err := store.Upload(ctx, []byte("two"), "result.stl", "model/stl")
	require.NoError(t, err)

	assert.NotEqual(t, first.Pathname, second.Pathname)

	data, err := store.Open(ctx, first.Pathname)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
}

func TestLocalStoreSanitizesFilename(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	obj, err := store.Upload(context.Background(), []byte("x"), "../../etc/passwd", "text/plain")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(obj.Pathname, "/passwd"))
	assert.NotContains(t, obj.Pathname, "..")
}

func TestLocalStoreOpenRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "../outside")
	assert.Error(t, err)

	_, err = store.Open(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}

func TestLocalStoreOpenMissingBlob(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "nope/missing.stl")
	assert.Error(t, err)
}
