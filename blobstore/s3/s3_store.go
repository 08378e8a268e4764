package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/hupe1980/mamstore/blobstore"
)

// Store implements blobstore.Store on an S3 bucket.
type Store struct {
	client   Client
	bucket   string
	prefix   string
	upload   UploadConfig
	uploader *manager.Uploader
}

var _ blobstore.Store = (*Store)(nil)

// NewStore creates a store. rootPrefix is prepended to every key
// (e.g. "backups/index-a/").
func NewStore(client Client, bucket, rootPrefix string, optFns ...func(*UploadConfig)) *Store {
	cfg := DefaultUploadConfig()
	for _, fn := range optFns {
		fn(&cfg)
	}
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   rootPrefix,
		upload:   cfg,
		uploader: newUploader(client, cfg),
	}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return openBlob(ctx, s.client, s.bucket, objectKey(s.prefix, name))
}

func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return blobstore.ErrInvalidName
	}
	return putWithChecksum(ctx, s.client, s.bucket, objectKey(s.prefix, name), data, s.upload.EnableChecksum)
}

func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if name == "" {
		return nil, blobstore.ErrInvalidName
	}
	return newStreamingWritableBlob(ctx, s.uploader, s.bucket, objectKey(s.prefix, name), s.upload.EnableChecksum), nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	return deleteObject(ctx, s.client, s.bucket, objectKey(s.prefix, name))
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return listObjects(ctx, s.client, s.bucket, listPrefix(s.prefix, prefix), s.prefix)
}
