// Package storage holds the persistence configuration shared by the
// service and the object stores used for uploaded source photos.
//
// Two ImageStore backends exist:
//
//   - FilesystemImageStore writes under a local root and serves files at
//     PublicBaseURL (default /uploads).
//   - S3ImageStore writes to an S3-compatible bucket (AWS or MinIO).
//
// Keys are content addressed per user, so re-uploading the same photo is a
// no-op:
//
//	key := storage.ImageKey(userID, data, "png")
//	url, err := store.PutImage(ctx, key, data, "image/png")
//
// Relational storage (Postgres connection, migrations and Redis) lives in
// the postgres subpackage.
package storage
