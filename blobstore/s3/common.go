package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/mamstore/blobstore"
)

// objectKey joins the root prefix and a blob name.
func objectKey(rootPrefix, name string) string {
	return path.Join(rootPrefix, name)
}

// listPrefix is objectKey that keeps directory boundaries: "snap-1/" does
// not match "snap-10/", and the root prefix only matches its own subtree.
func listPrefix(rootPrefix, prefix string) string {
	p := objectKey(rootPrefix, prefix)
	if p == "" {
		return ""
	}
	if (prefix == "" || strings.HasSuffix(prefix, "/")) && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// baseBlob reads an object with ranged GETs.
type baseBlob struct {
	client Client
	bucket string
	key    string
	size   int64
}

func (b *baseBlob) Close() error { return nil }

func (b *baseBlob) Size() int64 { return b.size }

func (b *baseBlob) getRange(ctx context.Context, off, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (b *baseBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := min(off+int64(len(p)), b.size) - 1

	body, err := b.getRange(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	want := int(end - off + 1)
	n, err := io.ReadFull(body, p[:want])
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

func (b *baseBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size {
		return nil, io.EOF
	}
	if length <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return b.getRange(ctx, off, min(off+length, b.size)-1)
}

// openBlob resolves the object size with HEAD.
func openBlob(ctx context.Context, client Client, bucket, key string) (*baseBlob, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	return &baseBlob{
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

func deleteObject(ctx context.Context, client Client, bucket, key string) error {
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// listObjects pages through ListObjectsV2 and returns names relative to
// rootPrefix, sorted.
func listObjects(ctx context.Context, client Client, bucket, fullPrefix, rootPrefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), rootPrefix)
			name = strings.TrimPrefix(name, "/")
			if name != "" {
				keys = append(keys, name)
			}
		}
	}
	slices.Sort(keys)
	return keys, nil
}
