package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/mamstore/internal/hash"
)

// UploadConfig tunes the multipart uploader.
type UploadConfig struct {
	// PartSize is the multipart part size. Default 8 MiB.
	PartSize int64
	// Concurrency is the number of parts uploaded in parallel. Default 5.
	Concurrency int
	// EnableChecksum asks S3 to validate CRC32C checksums. Default true.
	EnableChecksum bool
	// LeavePartsOnError keeps the parts of a failed multipart upload.
	LeavePartsOnError bool
}

// DefaultUploadConfig returns the upload defaults.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 * 1024 * 1024,
		Concurrency:    5,
		EnableChecksum: true,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize >= manager.MinUploadPartSize {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

// computeCRC32C returns the checksum in the base64 big-endian form S3 expects.
func computeCRC32C(data []byte) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], hash.CRC32C(data))
	return base64.StdEncoding.EncodeToString(b[:])
}

// putWithChecksum uploads a small blob in a single request.
func putWithChecksum(ctx context.Context, client Client, bucket, key string, data []byte, checksum bool) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if checksum {
		input.ChecksumCRC32C = aws.String(computeCRC32C(data))
	}
	_, err := client.PutObject(ctx, input)
	return err
}

// streamingWritableBlob feeds a background multipart upload through a pipe.
type streamingWritableBlob struct {
	pw   *io.PipeWriter
	done chan error

	closeMu  sync.Mutex
	closed   atomic.Bool
	closeErr error
}

func newStreamingWritableBlob(ctx context.Context, uploader *manager.Uploader, bucket, key string, checksum bool) *streamingWritableBlob {
	pr, pw := io.Pipe()
	b := &streamingWritableBlob{
		pw:   pw,
		done: make(chan error, 1),
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if checksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	go func() {
		_, err := uploader.Upload(ctx, input)
		_ = pr.CloseWithError(err)
		b.done <- err
	}()
	return b
}

func (b *streamingWritableBlob) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return b.pw.Write(p)
}

// Close finishes the upload and waits for it. Calling Close again returns
// the first result.
func (b *streamingWritableBlob) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return b.closeErr
	}
	if err := b.pw.Close(); err != nil {
		b.closeErr = err
		return err
	}
	b.closeErr = <-b.done
	return b.closeErr
}

// Abort cancels the upload. Unless LeavePartsOnError is set the uploader
// removes any parts already sent.
func (b *streamingWritableBlob) Abort() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = b.pw.CloseWithError(context.Canceled)
	<-b.done
	b.closeErr = context.Canceled
	return nil
}

// Sync is a no-op; the object exists only after Close.
func (b *streamingWritableBlob) Sync() error { return nil }
