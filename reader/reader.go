package reader

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/resource"
	"github.com/lidarkit/cloudpipe/spatial"
)

// DefaultScale is the coordinate resolution used when a file does not
// declare one.
const DefaultScale = 0.001

// FormatReader is a pull-style reader over one point source.
type FormatReader interface {
	// Header describes the source. The schema is final before the first
	// ReadPoint.
	Header() *pointcloud.Header
	// ReadPoint fills p, which must be bound to Header().Schema. It returns
	// io.EOF after the last record.
	ReadPoint(p *pointcloud.Point) error
	Close() error
}

// Source opens readers by file name.
type Source interface {
	Open(ctx context.Context, name string) (FormatReader, error)
}

type options struct {
	scale  float64
	rc     *resource.Controller
	logger *slog.Logger
}

// Option configures a Source.
type Option func(*options)

// WithScale sets the coordinate resolution of decoded records.
func WithScale(s float64) Option {
	return func(o *options) {
		if s > 0 {
			o.scale = s
		}
	}
}

// WithResourceController throttles reads with the controller's IO limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		scale:  DefaultScale,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Probe opens name and returns its header without reading records.
func Probe(ctx context.Context, src Source, name string) (*pointcloud.Header, error) {
	r, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Header().Clone(), nil
}

// Request selects the files and region a chunk reads.
type Request struct {
	// Files are read in order. Main files come first, neighbours after.
	Files []string
	// Shape restricts the records returned. Nil keeps every record.
	Shape spatial.Shape
	// Core is the unbuffered chunk region stored as the header's
	// OriginalExtent. Nil leaves it unset.
	Core *spatial.BBox
}

// MultiReader reads several files of one chunk as a single source. Records
// of later files are converted to the schema of the first one.
type MultiReader struct {
	ctx    context.Context
	src    Source
	req    Request
	header *pointcloud.Header

	cur     FormatReader
	next    int
	scratch *pointcloud.Point
}

// Open opens every file of req to build the chunk header, then reads them
// sequentially. A file that fails to open fails the whole request.
func Open(ctx context.Context, src Source, req Request) (*MultiReader, error) {
	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}

	var h *pointcloud.Header
	for _, name := range req.Files {
		fh, err := Probe(ctx, src, name)
		if err != nil {
			return nil, err
		}
		if h == nil {
			h = fh
			continue
		}
		h.Extent = h.Extent.Union(fh.Extent)
		h.MinZ = min(h.MinZ, fh.MinZ)
		h.MaxZ = max(h.MaxZ, fh.MaxZ)
		h.PointCount += fh.PointCount
	}
	if req.Shape != nil {
		h.Extent = intersect(h.Extent, req.Shape.BBox())
	}
	if req.Core != nil {
		c := *req.Core
		h.OriginalExtent = &c
	}
	if len(req.Files) > 1 {
		h.Source = req.Files[0] + "+"
	}

	return &MultiReader{ctx: ctx, src: src, req: req, header: h}, nil
}

func intersect(a, b spatial.BBox) spatial.BBox {
	r := spatial.BBox{
		MinX: max(a.MinX, b.MinX),
		MinY: max(a.MinY, b.MinY),
		MaxX: min(a.MaxX, b.MaxX),
		MaxY: min(a.MaxY, b.MaxY),
	}
	if r.MinX > r.MaxX || r.MinY > r.MaxY {
		return spatial.EmptyBBox()
	}
	return r
}

// Header returns the merged chunk header.
func (m *MultiReader) Header() *pointcloud.Header { return m.header }

// ReadPoint returns the next record inside the request shape.
func (m *MultiReader) ReadPoint(p *pointcloud.Point) error {
	for {
		if m.cur == nil {
			if m.next >= len(m.req.Files) {
				return io.EOF
			}
			r, err := m.src.Open(m.ctx, m.req.Files[m.next])
			if err != nil {
				return err
			}
			m.next++
			m.cur = r
			m.scratch = pointcloud.NewPoint(r.Header().Schema)
		}

		err := m.cur.ReadPoint(m.scratch)
		if errors.Is(err, io.EOF) {
			_ = m.cur.Close()
			m.cur = nil
			continue
		}
		if err != nil {
			return err
		}
		if m.req.Shape != nil && !m.req.Shape.Contains(m.scratch.X(), m.scratch.Y(), m.scratch.Z()) {
			continue
		}
		m.scratch.Convert(p)
		return nil
	}
}

// Close releases the file being read.
func (m *MultiReader) Close() error {
	if m.cur == nil {
		return nil
	}
	err := m.cur.Close()
	m.cur = nil
	return err
}
