package pointcloud

import (
	"log/slog"
	"math"

	"github.com/lidarkit/cloudpipe/resource"
)

const (
	// MaxPoints is the largest number of points a buffer can address.
	MaxPoints = math.MaxInt32
	// InitialCapacity is the number of records reserved on the first append.
	InitialCapacity = 100_000
)

type bufferOptions struct {
	maxPoints       int
	initialCapacity int
	cellSize        float64
	rc              *resource.Controller
	logger          *slog.Logger
}

// BufferOption configures a Buffer.
type BufferOption func(*bufferOptions)

// WithMaxPoints lowers the maximum number of points the buffer accepts.
func WithMaxPoints(n int) BufferOption {
	return func(o *bufferOptions) {
		if n > 0 && n < MaxPoints {
			o.maxPoints = n
		}
	}
}

// WithInitialCapacity sets the number of records reserved on the first append.
func WithInitialCapacity(n int) BufferOption {
	return func(o *bufferOptions) {
		if n > 0 {
			o.initialCapacity = n
		}
	}
}

// WithCellSize overrides the spatial grid cell size. By default the cell size
// is derived from the header extent and point count.
func WithCellSize(size float64) BufferOption {
	return func(o *bufferOptions) {
		o.cellSize = size
	}
}

// WithResourceController charges buffer memory against rc. When rc refuses a
// reservation, growth fails with an *AllocationError.
func WithResourceController(rc *resource.Controller) BufferOption {
	return func(o *bufferOptions) {
		o.rc = rc
	}
}

// WithLogger sets the logger for growth and migration events.
func WithLogger(l *slog.Logger) BufferOption {
	return func(o *bufferOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
