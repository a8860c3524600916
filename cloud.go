package cloudpipe

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/query"
	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/spatial"
)

// Cloud is a region of a catalog loaded into memory and indexed. Queries
// are safe for concurrent callers; the cloud is never mutated after Load.
type Cloud struct {
	buf         *pointcloud.Buffer
	q           *query.Engine
	interrupted bool
	closed      atomic.Bool
	mc          MetricsCollector
	logger      *Logger
}

// Load reads the points of inputs inside shape into a Cloud. A nil shape
// loads every point. When ctx is canceled during the read, the points read
// so far are kept and Interrupted reports true.
func (p *Processor) Load(ctx context.Context, inputs []string, shape spatial.Shape) (*Cloud, error) {
	cat, err := p.Catalog(ctx, inputs)
	if err != nil {
		return nil, err
	}
	req := reader.Request{Shape: shape}
	if shape != nil {
		req.Files = cat.Intersecting(shape.BBox())
	} else {
		for _, f := range cat.Files() {
			req.Files = append(req.Files, f.Name)
		}
	}
	if len(req.Files) == 0 {
		return nil, ErrNoInput
	}

	mr, err := reader.Open(ctx, p.src, req)
	if err != nil {
		return nil, translateError(err)
	}
	defer mr.Close()

	bopts := []pointcloud.BufferOption{
		pointcloud.WithResourceController(p.rc),
		pointcloud.WithLogger(p.opts.logger.Logger),
	}
	if p.opts.maxPoints > 0 {
		bopts = append(bopts, pointcloud.WithMaxPoints(p.opts.maxPoints))
	}
	buf, err := pointcloud.NewBuffer(mr.Header(), bopts...)
	if err != nil {
		return nil, translateError(err)
	}

	c := &Cloud{buf: buf, q: query.NewEngine(buf), mc: p.opts.metricsCollector, logger: p.opts.logger}
	pt := buf.NewPoint()
	for n := 0; ; n++ {
		if n&0xfff == 0 && ctx.Err() != nil {
			c.interrupted = true
			break
		}
		err := mr.ReadPoint(pt)
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			_, err = buf.Append(pt)
		}
		if err != nil {
			_ = buf.Close()
			return nil, translateError(err)
		}
	}
	p.opts.logger.DebugContext(ctx, "cloud loaded", "files", len(req.Files), "points", buf.Len(), "interrupted", c.interrupted)
	return c, nil
}

// Header describes the loaded region.
func (c *Cloud) Header() *pointcloud.Header { return c.buf.Header() }

// Len returns the number of points.
func (c *Cloud) Len() int { return c.buf.Len() }

// Bounds returns the extent of the loaded points.
func (c *Cloud) Bounds() spatial.BBox { return c.buf.Bounds() }

// Interrupted reports whether Load was canceled before the end of the
// files.
func (c *Cloud) Interrupted() bool { return c.interrupted }

// Query returns the points inside shape.
func (c *Cloud) Query(ctx context.Context, shape spatial.Shape, opts ...query.Option) (query.Result, error) {
	if c.closed.Load() {
		return query.Result{}, ErrClosed
	}
	start := time.Now()
	res, err := c.q.Query(ctx, shape, opts...)
	c.record(ctx, "range", res, start, err)
	return res, err
}

// KNN returns up to k points nearest to (x, y, z) within maxRadius.
func (c *Cloud) KNN(ctx context.Context, x, y, z float64, k int, maxRadius float64, opts ...query.Option) (query.Result, error) {
	if c.closed.Load() {
		return query.Result{}, ErrClosed
	}
	start := time.Now()
	res, err := c.q.KNN(ctx, x, y, z, k, maxRadius, opts...)
	c.record(ctx, "knn", res, start, err)
	return res, err
}

// Get returns the point with the given id.
func (c *Cloud) Get(id uint32, opts ...query.Option) (*pointcloud.Point, bool) {
	if c.closed.Load() {
		return nil, false
	}
	return c.q.Get(id, opts...)
}

func (c *Cloud) record(ctx context.Context, kind string, res query.Result, start time.Time, err error) {
	c.mc.RecordQuery(kind, res.Len(), time.Since(start), err)
	c.logger.LogQuery(ctx, kind, res.Len(), res.Interrupted, err)
}

// Close releases the points. Queries after Close fail with ErrClosed.
func (c *Cloud) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.buf.Close()
}
