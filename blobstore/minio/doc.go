// Package minio stores point clouds, index files and rasters in MinIO or
// any other S3-compatible server through the minio-go client.
//
//	store, err := minio.New("localhost:9000", "lidar",
//	    minio.WithCredentials("minioadmin", "minioadmin"),
//	    minio.WithPrefix("survey-2024/"))
//
// Reads are served with ranged GETs so a reader can stream a tile
// without downloading it first. Writes created through Create stream
// into a single PutObject call of unknown length.
package minio
