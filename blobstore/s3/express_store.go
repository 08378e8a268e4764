package s3

import (
	"bytes"
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/hupe1980/mamstore/blobstore"
)

// ErrConflict is returned when a conditional write finds the object present.
var ErrConflict = blobstore.ErrExists

// ExpressStore implements blobstore.Store for S3 Express One Zone directory
// buckets (names ending in --azid--x-s3). Directory buckets support
// If-None-Match, so snapshot manifests are created with PutIfNotExists and a
// second writer using the same snapshot name fails instead of overwriting.
type ExpressStore struct {
	client   Client
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

var (
	_ blobstore.Store             = (*ExpressStore)(nil)
	_ blobstore.ConditionalPutter = (*ExpressStore)(nil)
)

// NewExpressStore creates a store on a directory bucket.
func NewExpressStore(client Client, bucket, rootPrefix string) *ExpressStore {
	return &ExpressStore{
		client:   client,
		bucket:   bucket,
		prefix:   rootPrefix,
		uploader: newUploader(client, DefaultUploadConfig()),
	}
}

func (s *ExpressStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return openBlob(ctx, s.client, s.bucket, objectKey(s.prefix, name))
}

func (s *ExpressStore) Put(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return blobstore.ErrInvalidName
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, name)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// PutIfNotExists writes the object only if the key is free.
func (s *ExpressStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return blobstore.ErrInvalidName
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(s.prefix, name)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PreconditionFailed", "ConditionalRequestConflict":
				return ErrConflict
			}
		}
		return err
	}
	return nil
}

// Create streams a multipart upload.
func (s *ExpressStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if name == "" {
		return nil, blobstore.ErrInvalidName
	}
	return newStreamingWritableBlob(ctx, s.uploader, s.bucket, objectKey(s.prefix, name), true), nil
}

func (s *ExpressStore) Delete(ctx context.Context, name string) error {
	return deleteObject(ctx, s.client, s.bucket, objectKey(s.prefix, name))
}

func (s *ExpressStore) List(ctx context.Context, prefix string) ([]string, error) {
	return listObjects(ctx, s.client, s.bucket, listPrefix(s.prefix, prefix), s.prefix)
}
