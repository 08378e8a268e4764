// Package minio stores page file snapshots on MinIO and other S3-compatible
// servers (Ceph, Garage, SeaweedFS) using the official MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil { ... }
//	store := minioblob.NewStore(client, "backups", "index-a/")
//	err = db.Snapshot(ctx, store, "nightly")
//
// It does not depend on the AWS SDK.
package minio
