// Package s3 stores page file snapshots in Amazon S3.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil { ... }
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "backups/index-a/")
//	err = db.Snapshot(ctx, store, "2026-10-16")
//
// Wrap a store in a DDBCommitStore when several processes may commit
// snapshots into the same prefix:
//
//	commits := s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), "mamstore-commits", "s3://my-bucket/backups/index-a/")
//
// # Features
//
//   - Ranged GETs for partial reads
//   - Multipart uploads with CRC32C checksums
//   - Paginated listing
//   - S3 Express One Zone conditional writes
package s3
