package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/mamstore/internal/mmap"
)

const tempPrefix = ".tmp-"

// LocalStore keeps blobs as files below a root directory. Names may contain
// slashes; they map to subdirectories. Writes go to a temporary file that is
// renamed into place on Close.
type LocalStore struct {
	root string
}

var (
	_ Store             = (*LocalStore)(nil)
	_ ConditionalPutter = (*LocalStore)(nil)
)

// NewLocalStore creates a LocalStore rooted at root. The directory is created
// on the first write.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Root returns the store directory.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(name string) (string, error) {
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

func (s *LocalStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Open(p)
	if err != nil {
		return nil, err
	}
	_ = m.Advise(mmap.AccessSequential)
	return &localBlob{m: m}, nil
}

func (s *LocalStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(p), tempPrefix+filepath.Base(p)+"-*")
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{f: f, path: p}, nil
}

func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.(*localWritableBlob).abort()
		return err
	}
	return w.Close()
}

// PutIfNotExists writes a temporary file and hard-links it into place, which
// fails if the target exists.
func (s *LocalStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	lw := w.(*localWritableBlob)
	defer func() { _ = os.Remove(lw.f.Name()) }()

	if _, err := lw.f.Write(data); err != nil {
		_ = lw.abort()
		return err
	}
	if err := lw.f.Sync(); err != nil {
		_ = lw.abort()
		return err
	}
	lw.closed = true
	if err := lw.f.Close(); err != nil {
		return err
	}
	if err := os.Link(lw.f.Name(), lw.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == s.root {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return b.m.ReadAt(p, off)
}

func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := b.m.Bytes()
	size := int64(len(data))
	if off >= size {
		return nil, io.EOF
	}
	end := min(off+length, size)
	return io.NopCloser(bytes.NewReader(data[off:end])), nil
}

func (b *localBlob) Bytes() ([]byte, error) {
	data := b.m.Bytes()
	if data == nil && b.m.Size() > 0 {
		return nil, mmap.ErrClosed
	}
	return data, nil
}

func (b *localBlob) Close() error { return b.m.Close() }

func (b *localBlob) Size() int64 { return int64(b.m.Size()) }

type localWritableBlob struct {
	f      *os.File
	path   string
	closed bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.f.Write(p)
}

func (w *localWritableBlob) Sync() error { return w.f.Sync() }

// Close syncs the temporary file and renames it over the target.
func (w *localWritableBlob) Close() error {
	if w.closed {
		return os.ErrClosed
	}
	if err := w.f.Sync(); err != nil {
		return errors.Join(err, w.abort())
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		return errors.Join(err, os.Remove(w.f.Name()))
	}
	if err := os.Rename(w.f.Name(), w.path); err != nil {
		return errors.Join(err, os.Remove(w.f.Name()))
	}
	return nil
}

func (w *localWritableBlob) abort() error {
	w.closed = true
	return errors.Join(w.f.Close(), os.Remove(w.f.Name()))
}
