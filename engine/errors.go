package engine

import (
	"errors"
	"fmt"

	"github.com/lidarkit/cloudpipe/catalog"
)

var (
	// ErrClosed is returned when submitting to a closed worker pool.
	ErrClosed = errors.New("engine: worker pool closed")

	// ErrNoChunks is returned when the plan of a job is empty.
	ErrNoChunks = errors.New("engine: no chunk intersects the catalog")
)

// ChunkError reports the failure of one chunk. Other chunks are not
// affected.
//
// The original underlying error can be accessed via errors.Unwrap.
type ChunkError struct {
	Chunk catalog.Chunk
	// Points is the number of points read when the chunk failed.
	Points int
	Err    error
}

func (e *ChunkError) Error() string {
	c := e.Chunk.Core
	return fmt.Sprintf("chunk %d %q [%g %g, %g %g] failed at %d points: %v",
		e.Chunk.ID, e.Chunk.Name, c.MinX, c.MinY, c.MaxX, c.MaxY, e.Points, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
