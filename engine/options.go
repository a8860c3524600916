package engine

import (
	"log/slog"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/resource"
)

type options struct {
	threads  int
	logger   *slog.Logger
	observer MetricsObserver
	resource *resource.Controller
	buffer   []pointcloud.BufferOption
}

// Option configures a Scheduler.
type Option func(*options)

// WithThreads sets the number of chunks processed in parallel.
func WithThreads(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.threads = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsObserver sets the observer notified of chunk and stage runs.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.observer = m
		}
	}
}

// WithResourceController shares a memory budget and IO limit between all
// chunks.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.resource = rc }
}

// WithBufferOptions passes options to every chunk buffer.
func WithBufferOptions(opts ...pointcloud.BufferOption) Option {
	return func(o *options) { o.buffer = append(o.buffer, opts...) }
}

func applyOptions(opts []Option) options {
	o := options{
		threads:  1,
		logger:   slog.New(slog.DiscardHandler),
		observer: NoopMetricsObserver{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
