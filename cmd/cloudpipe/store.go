package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/lidarkit/cloudpipe"
	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/blobstore/minio"
	"github.com/lidarkit/cloudpipe/blobstore/s3"
)

// openStore creates the store described by sc.
func openStore(ctx context.Context, sc cloudpipe.StoreConfig) (blobstore.BlobStore, error) {
	switch strings.ToLower(sc.Type) {
	case "", "local":
		root := sc.Root
		if root == "" {
			root = "."
		}
		return blobstore.NewLocalStore(root), nil
	case "s3":
		opts := []s3.Option{s3.WithPrefix(sc.Prefix)}
		if sc.Region != "" {
			opts = append(opts, s3.WithRegion(sc.Region))
		}
		if sc.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(sc.Endpoint))
		}
		return s3.New(ctx, sc.Bucket, opts...)
	case "minio":
		opts := []minio.Option{minio.WithPrefix(sc.Prefix)}
		if sc.AccessKey != "" {
			opts = append(opts, minio.WithCredentials(sc.AccessKey, sc.SecretKey))
		}
		if sc.Region != "" {
			opts = append(opts, minio.WithRegion(sc.Region))
		}
		if sc.Secure {
			opts = append(opts, minio.WithTLS())
		}
		return minio.New(sc.Endpoint, sc.Bucket, opts...)
	}
	return nil, fmt.Errorf("%w: unknown store type %q", cloudpipe.ErrConfig, sc.Type)
}
