package cloudpipe

import (
	"github.com/lidarkit/cloudpipe/codec"
	"github.com/lidarkit/cloudpipe/pipeline"
)

type options struct {
	threads          int
	memoryLimit      int64
	ioLimit          int64
	maxPoints        int
	scale            float64
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	surface          pipeline.SurfaceBuilder
}

// Option configures a Processor.
type Option func(*options)

// WithThreads sets the number of chunks processed in parallel.
func WithThreads(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.threads = n
		}
	}
}

// WithMemoryLimit caps the memory of all point buffers together. Chunks
// that would exceed it fail with ErrAllocation.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) { o.memoryLimit = bytes }
}

// WithIOLimit caps the read and write throughput in bytes per second.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) { o.ioLimit = bytesPerSec }
}

// WithMaxPoints caps the number of points of one chunk buffer.
func WithMaxPoints(n int) Option {
	return func(o *options) { o.maxPoints = n }
}

// WithScale sets the coordinate resolution of decoded points.
func WithScale(s float64) Option {
	return func(o *options) { o.scale = s }
}

// WithCodec configures the codec of the job report.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metricsCollector = mc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSurfaceBuilder replaces the interpolator behind triangulate stages.
func WithSurfaceBuilder(b pipeline.SurfaceBuilder) Option {
	return func(o *options) { o.surface = b }
}

func applyOptions(opts []Option) options {
	o := options{
		threads:          1,
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
