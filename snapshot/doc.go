// Package snapshot copies a page file to a blobstore.Store and back.
//
// An export writes, under the snapshot name:
//
//	<name>/chunk-000000 ... compressed runs of ChunkPages pages
//	<name>/MANIFEST        binary manifest with per-chunk CRC32C
//	CURRENT                the name of the newest snapshot (optional)
//
// Chunks are compressed and uploaded in parallel. The manifest is written
// last, so a snapshot without a manifest is incomplete and ignored by
// Restore. Stores implementing blobstore.ConditionalPutter refuse to
// overwrite an existing manifest.
//
// Usage:
//
//	m, err := snapshot.Export(ctx, diskStore, blobs, "nightly")
//	...
//	m, err = snapshot.Restore(ctx, blobs, "", "restored.pages")
package snapshot
