// Package hash computes CRC32-Castagnoli checksums for snapshot chunks,
// manifests and S3 upload integrity headers.
//
//	sum := hash.CRC32C(chunk)
package hash
