// Package blobstore abstracts where point-cloud sources are read from and
// where stage outputs are written to.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, memory-mapped reads
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//
// Names are slash-separated paths relative to the store root.
package blobstore
