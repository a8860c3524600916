// Package query answers spatial questions against a filled point buffer:
// shape-bounded range queries, adaptive-radius k-nearest-neighbour search,
// read-by-id and a resumable streaming scan.
//
// Engine methods never mutate the buffer and may be called concurrently on a
// buffer that is no longer being written. A Session moves the buffer cursor
// and therefore belongs to the goroutine that owns the buffer.
//
// Long scans poll the context at point granularity. Cancellation is not an
// error: the scan stops and the partial result is returned with Interrupted
// set.
package query
