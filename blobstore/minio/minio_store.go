package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/mamstore/blobstore"
	"github.com/minio/minio-go/v7"
)

// Store implements blobstore.Store on MinIO or another S3-compatible server.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ blobstore.Store = (*Store)(nil)

// NewStore creates a store. rootPrefix is prepended to every key.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	return &minioBlob{
		client: s.client,
		bucket: s.bucket,
		key:    key,
		size:   info.Size,
	}, nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return blobstore.ErrInvalidName
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Create streams an upload of unknown length.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if name == "" {
		return nil, blobstore.ErrInvalidName
	}
	pr, pw := io.Pipe()
	blob := &minioWritableBlob{
		pw:   pw,
		done: make(chan error, 1),
	}

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1, minio.PutObjectOptions{})
		_ = pr.CloseWithError(err)
		blob.done <- err
	}()
	return blob, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	if fullPrefix != "" && (prefix == "" || strings.HasSuffix(prefix, "/")) {
		fullPrefix = strings.TrimSuffix(fullPrefix, "/") + "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		name = strings.TrimPrefix(name, "/")
		if name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type minioBlob struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
}

func (b *minioBlob) Size() int64 { return b.size }

func (b *minioBlob) Close() error { return nil }

func (b *minioBlob) getRange(ctx context.Context, off, end int64) (*minio.Object, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return nil, err
	}
	return b.client.GetObject(ctx, b.bucket, b.key, opts)
}

func (b *minioBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := min(off+int64(len(p)), b.size) - 1

	obj, err := b.getRange(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	want := int(end - off + 1)
	n, err := io.ReadFull(obj, p[:want])
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	}
	if want < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *minioBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size {
		return nil, io.EOF
	}
	if length <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return b.getRange(ctx, off, min(off+length, b.size)-1)
}

type minioWritableBlob struct {
	pw       *io.PipeWriter
	done     chan error
	once     sync.Once
	closeErr error
}

func (b *minioWritableBlob) Write(p []byte) (int, error) {
	return b.pw.Write(p)
}

// Close finishes the upload and waits for it.
func (b *minioWritableBlob) Close() error {
	b.once.Do(func() {
		if err := b.pw.Close(); err != nil {
			b.closeErr = err
			return
		}
		b.closeErr = <-b.done
	})
	return b.closeErr
}

// Abort cancels the upload.
func (b *minioWritableBlob) Abort() error {
	b.once.Do(func() {
		_ = b.pw.CloseWithError(errors.New("upload aborted"))
		<-b.done
		b.closeErr = context.Canceled
	})
	return nil
}

func (b *minioWritableBlob) Sync() error { return nil }
