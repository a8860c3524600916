// Package pipeline builds and runs stage graphs over point chunks.
//
// A pipeline is an ordered list of stage descriptors. Build validates the
// list once: the first stage must be a reader, every stage kind must be
// known and references between stages (connect, connect1, connect2) must
// name an earlier stage of a compatible kind. The result is an immutable
// Graph whose stages live in an arena addressed by Handle.
//
// The graph aggregates three properties of its stages:
//
//   - Streamable is true when every stage can see points one at a time.
//   - BufferMargin is the largest margin any stage needs around a chunk.
//   - NeedsPoints is true when any stage reads point records.
//
// They select how an Instance executes a chunk. Header-only chunks never
// read records. Streaming chunks pass each record through the stages in
// order; a record withheld by one stage is not seen by the next. Buffered
// chunks load every record into a pointcloud.Buffer first and run the
// stages one after the other against it.
//
// Cancelling the context of Execute interrupts the chunk at point
// granularity. This is reported through ChunkOutput.Interrupted, not as an
// error.
package pipeline
