package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	ctx := context.Background()

	data := []byte("header page, free list, client pages")

	w, err := store.Create(ctx, "snap-1/chunk-000000")
	require.NoError(t, err)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	// Not visible before Close.
	_, err = store.Open(ctx, "snap-1/chunk-000000")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())
	_, err = os.Stat(filepath.Join(root, "snap-1", "chunk-000000"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, "snap-1/chunk-000000")
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 6)
	n, err = blob.ReadAt(ctx, buf, 7)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "page, ", string(buf))

	rc, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "free", string(got))

	require.NoError(t, store.Put(ctx, "snap-1/MANIFEST", []byte("m")))
	require.NoError(t, store.Put(ctx, "CURRENT", []byte("snap-1")))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"CURRENT", "snap-1/MANIFEST", "snap-1/chunk-000000"}, names)

	names, err = store.List(ctx, "snap-1/chunk-")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-1/chunk-000000"}, names)

	require.NoError(t, store.Delete(ctx, "CURRENT"))
	require.NoError(t, store.Delete(ctx, "CURRENT"))
	_, err = store.Open(ctx, "CURRENT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ReadRangeBoundaries(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "boundary", []byte("0123456789")))

	blob, err := store.Open(ctx, "boundary")
	require.NoError(t, err)
	defer blob.Close()

	rc, err := blob.ReadRange(ctx, 8, 5)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "89", string(got))

	_, err = blob.ReadRange(ctx, 20, 5)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLocalStore_InvalidNames(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	for _, name := range []string{"", "../escape", "/abs"} {
		assert.ErrorIs(t, store.Put(ctx, name, []byte("x")), ErrInvalidName, name)
	}
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "absent"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_CanceledContext(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Open(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Create(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadAll(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]Store{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "a", []byte("abc")))
			require.NoError(t, store.Put(ctx, "empty", nil))

			got, err := ReadAll(ctx, store, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("abc"), got)

			got, err = ReadAll(ctx, store, "empty")
			require.NoError(t, err)
			assert.Empty(t, got)

			_, err = ReadAll(ctx, store, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPutIfNotExists(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]interface {
		Store
		ConditionalPutter
	}{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.PutIfNotExists(ctx, "snap/MANIFEST", []byte("v1")))
			assert.ErrorIs(t, store.PutIfNotExists(ctx, "snap/MANIFEST", []byte("v2")), ErrExists)

			got, err := ReadAll(ctx, store, "snap/MANIFEST")
			require.NoError(t, err)
			assert.Equal(t, "v1", string(got))

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"snap/MANIFEST"}, names)
		})
	}
}
