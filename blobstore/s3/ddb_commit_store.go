package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/mamstore/blobstore"
)

// DDBCommitStore wraps a blob store and keeps the CURRENT pointer in
// DynamoDB. Each commit is a conditional insert of the next version, so two
// processes snapshotting into the same bucket cannot silently overwrite each
// other's pointer.
//
// Table schema:
//   - Partition key: base_uri (string), the bucket/prefix being managed
//   - Sort key: version (number), monotonically increasing
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name mamstore-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	inner     blobstore.Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

var _ blobstore.Store = (*DDBCommitStore)(nil)

// DDBClient is the subset of *dynamodb.Client the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// ErrConcurrentModification is returned when another writer committed the
// same version first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// NewDDBCommitStore creates a commit store. baseURI, typically
// "s3://bucket/prefix", partitions the table.
func NewDDBCommitStore(inner blobstore.Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		inner:     inner,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != blobstore.CurrentName {
		return s.inner.Open(ctx, name)
	}
	version, target, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return &currentBlob{content: []byte(target)}, nil
}

// Put commits a new version when name is CURRENT and writes to the inner
// store otherwise.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == blobstore.CurrentName {
		return s.commit(ctx, string(data))
	}
	return s.inner.Put(ctx, name, data)
}

func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if name == blobstore.CurrentName {
		return nil, fmt.Errorf("%w: %s is committed with Put", blobstore.ErrInvalidName, name)
	}
	return s.inner.Create(ctx, name)
}

// Delete removes a blob. Deleting CURRENT removes the latest commit and
// exposes the previous one.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if name != blobstore.CurrentName {
		return s.inner.Delete(ctx, name)
	}
	version, _, err := s.Latest(ctx)
	if err != nil || version == 0 {
		return err
	}
	_, err = s.ddbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("delete commit %d: %w", version, err)
	}
	return nil
}

func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Latest returns the newest committed version and its target. Version 0
// means nothing was committed yet.
func (s *DDBCommitStore) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit table")
	}
	targetAttr, ok := item["target"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid target attribute in commit table")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse commit version: %w", err)
	}
	return version, targetAttr.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, target string) error {
	current, _, err := s.Latest(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"target":   &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit version %d: %w", current+1, err)
	}
	return nil
}

// currentBlob serves the CURRENT target from memory.
type currentBlob struct {
	content []byte
}

func (b *currentBlob) Close() error { return nil }

func (b *currentBlob) Size() int64 { return int64(len(b.content)) }

func (b *currentBlob) Bytes() ([]byte, error) { return b.content, nil }

func (b *currentBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *currentBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	size := int64(len(b.content))
	if off >= size {
		return nil, io.EOF
	}
	return io.NopCloser(bytes.NewReader(b.content[off:min(off+length, size)])), nil
}
