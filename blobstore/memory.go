package blobstore

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps blobs in memory. It is meant for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var (
	_ Store             = (*MemoryStore)(nil)
	_ ConditionalPutter = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	// Stored slices are never mutated in place, so sharing is safe.
	return &memoryBlob{data: data}, nil
}

func (m *MemoryStore) Create(_ context.Context, name string) (WritableBlob, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	return &memoryWritableBlob{store: m, name: name}, nil
}

func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	if name == "" {
		return ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = bytes.Clone(data)
	return nil
}

func (m *MemoryStore) PutIfNotExists(_ context.Context, name string, data []byte) error {
	if name == "" {
		return ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[name]; ok {
		return ErrExists
	}
	m.blobs[name] = bytes.Clone(data)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

type memoryBlob struct {
	data []byte
}

func (b *memoryBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *memoryBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	size := int64(len(b.data))
	if off >= size {
		return nil, io.EOF
	}
	end := min(off+length, size)
	return io.NopCloser(bytes.NewReader(b.data[off:end])), nil
}

func (b *memoryBlob) Bytes() ([]byte, error) { return b.data, nil }

func (b *memoryBlob) Close() error { return nil }

func (b *memoryBlob) Size() int64 { return int64(len(b.data)) }

type memoryWritableBlob struct {
	store  *MemoryStore
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWritableBlob) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *memoryWritableBlob) Close() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	w.closed = true

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.blobs[w.name] = bytes.Clone(w.buf.Bytes())
	return nil
}

func (w *memoryWritableBlob) Sync() error { return nil }
