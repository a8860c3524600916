// Package reader turns stored point files into pointcloud records.
//
// A FormatReader is opened by name from a Source, exposes the file Header
// (extent, point count, schema) before any record is read and then returns
// records one at a time until io.EOF. Open combines the main and neighbour
// files of a chunk into a single reader restricted to the chunk's read
// shape.
//
// The store-backed Source understands PCD files in ascii or binary layout.
// Files ending in .zst or .lz4 are decompressed on the fly and reads are
// throttled by an optional resource.Controller.
package reader
