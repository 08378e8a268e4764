package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist. Implementations return
// an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// CurrentName is the blob that names the latest committed snapshot. Commit
// stores may keep it outside the object store.
const CurrentName = "CURRENT"

// ErrInvalidName is returned for empty blob names or names escaping the root.
var ErrInvalidName = errors.New("blobstore: invalid blob name")

// ErrExists is returned by PutIfNotExists when the blob already exists.
var ErrExists = errors.New("blobstore: blob already exists")

// Store holds named immutable blobs. Implementations must be safe for
// concurrent use.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create starts a streaming write. The blob becomes visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a whole blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored blob.
type Blob interface {
	io.Closer
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange streams length bytes starting at off, clipped to the blob.
	// It returns io.EOF when off is at or past the end.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	Size() int64
}

// WritableBlob is a streaming writer for a new blob.
type WritableBlob interface {
	io.WriteCloser
	Sync() error
}

// ConditionalPutter is implemented by stores that can create a blob only if
// it does not exist yet.
type ConditionalPutter interface {
	PutIfNotExists(ctx context.Context, name string, data []byte) error
}

// Mappable is implemented by blobs that can expose their bytes without a
// copy. The slice is valid until the blob is closed.
type Mappable interface {
	Bytes() ([]byte, error)
}

// ReadAll reads a whole blob.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), data...), nil
	}

	size := b.Size()
	if size == 0 {
		return []byte{}, nil
	}
	rc, err := b.ReadRange(ctx, 0, size)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("read blob %q: got %d bytes, want %d: %w", name, len(data), size, io.ErrUnexpectedEOF)
	}
	return data, nil
}
