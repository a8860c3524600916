// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "survey-bucket",
//	    s3.WithPrefix("tiles/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// # Features
//
//   - Range reads, so readers stream large tiles without downloading them first
//   - Multipart uploads for stage outputs
//   - Automatic pagination for listing
package s3
