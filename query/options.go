package query

import "github.com/lidarkit/cloudpipe/pointcloud"

// Filter reports whether a point should be kept.
type Filter func(p *pointcloud.Point) bool

// Transform modifies an emitted copy of a point.
type Transform func(p *pointcloud.Point)

type options struct {
	filter          Filter
	transform       Transform
	includeWithheld bool
}

// Option configures a query.
type Option func(*options)

// WithFilter keeps only points for which f returns true.
func WithFilter(f Filter) Option {
	return func(o *options) {
		o.filter = f
	}
}

// WithTransform applies fn to every emitted point. Emitted points are copies;
// the buffer is never modified.
func WithTransform(fn Transform) Option {
	return func(o *options) {
		o.transform = fn
	}
}

// IncludeWithheld makes withheld points visible.
func IncludeWithheld() Option {
	return func(o *options) {
		o.includeWithheld = true
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
