// Package blobstore is the object storage abstraction used for page file
// snapshots.
//
// A Store holds named, immutable blobs. Snapshot chunks and manifests are
// written with Put or Create and read back with Open.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: a directory on the local file system, reads via mmap
//   - s3.Store, s3.ExpressStore: Amazon S3 with range reads and multipart uploads
//   - s3.DDBCommitStore: S3 plus DynamoDB for an atomic CURRENT pointer
//   - minio.Store: MinIO and other S3-compatible servers
//
// # Custom Implementations
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Remote backends should implement Blob.ReadRange with ranged requests so a
// restore does not fetch more than it needs.
package blobstore
