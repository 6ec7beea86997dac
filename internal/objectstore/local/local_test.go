package local

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/checklistsync/internal/objectstore"
)

func TestLocalStoreSaveAndGet(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "https://media.example.com/")
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("fake jpeg data")

	url, err := store.Save(ctx, "prop-1/7/12/abc.jpg", "image/jpeg", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/prop-1/7/12/abc.jpg", url)

	reader, mimeType, err := store.Get(ctx, "prop-1/7/12/abc.jpg")
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, "image/jpeg", mimeType)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLocalStoreSaveOverwrites(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost/media")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Save(ctx, "p/updates/1/v.mp4", "video/mp4", bytes.NewReader([]byte("one")))
	require.NoError(t, err)
	_, err = store.Save(ctx, "p/updates/1/v.mp4", "video/mp4", bytes.NewReader([]byte("two")))
	require.NoError(t, err)

	reader, mimeType, err := store.Get(ctx, "p/updates/1/v.mp4")
	require.NoError(t, err)
	defer reader.Close()
	got, _ := io.ReadAll(reader)
	assert.Equal(t, "two", string(got))
	assert.Equal(t, "video/mp4", mimeType)
}

func TestLocalStoreDelete(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost/media")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Save(ctx, "p/1/1/a.png", "image/png", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "p/1/1/a.png"))

	_, _, err = store.Get(ctx, "p/1/1/a.png")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "p/1/1/a.png"), objectstore.ErrNotFound)
}

func TestLocalStorePathTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost/media")
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Get(ctx, "../../etc/passwd")
	assert.Error(t, err)

	_, err = store.Save(ctx, "../escape.jpg", "image/jpeg", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}

func TestMimeTypeMappingRoundTrips(t *testing.T) {
	for _, mt := range []string{"image/jpeg", "image/png", "image/webp", "video/mp4", "video/quicktime"} {
		assert.Equal(t, mt, objectstore.MimeTypeFor("x"+objectstore.ExtensionFor(mt)), mt)
	}
}
