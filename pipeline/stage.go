package pipeline

import (
	"context"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/query"
	"github.com/lidarkit/cloudpipe/raster"
	"github.com/lidarkit/cloudpipe/spatial"
)

// Stage is one unit of pipeline computation.
//
// A stage is built once from configuration and cloned for every chunk.
// Clone copies configuration only; state accumulated while processing a
// chunk is never shared between clones.
type Stage interface {
	Kind() Kind
	UID() string
	Name() string
	// Filter is the predicate expression selecting the points the stage
	// applies to.
	Filter() string
	Output() string

	// Streamable reports whether the stage can see points one at a time.
	Streamable() bool
	// BufferMargin is the distance the stage needs read around a chunk.
	BufferMargin() float64
	// NeedsPoints reports whether the stage reads point records rather than
	// headers only.
	NeedsPoints() bool

	Clone() Stage
	// Process runs the stage over a filled buffer.
	Process(ctx context.Context, env *Env) error
}

// PointStage is implemented by stages that can run on a point stream.
type PointStage interface {
	Stage
	ProcessPoint(ctx context.Context, env *Env, p *pointcloud.Point) error
}

// HeaderStage is implemented by stages that act on the chunk header before
// points are read in streaming and header-only execution.
type HeaderStage interface {
	Stage
	ProcessHeader(ctx context.Context, env *Env) error
}

// Finisher is implemented by stages that flush outputs after the chunk.
type Finisher interface {
	Stage
	Finish(ctx context.Context, env *Env) error
}

// releaser is implemented by stages holding resources that must be freed
// when a chunk ends early.
type releaser interface {
	release() error
}

// RasterProducer is the typed view of a CapRaster stage.
type RasterProducer interface {
	Stage
	// Raster returns the raster of the current chunk, or nil before the
	// stage ran.
	Raster() *raster.Raster
}

// Surface is a continuous height model.
type Surface interface {
	// Interpolate returns the height at (x, y). ok is false where the
	// surface is undefined.
	Interpolate(x, y float64) (z float64, ok bool)
	// Vertices calls fn for every input vertex.
	Vertices(fn func(x, y, z float64))
	Extent() spatial.BBox
	Len() int
}

// SurfaceProducer is the typed view of a CapSurface stage.
type SurfaceProducer interface {
	Stage
	Surface() Surface
}

// Seed is a detected local maximum.
type Seed struct {
	ID      uint32
	X, Y, Z float64
}

// SeedProducer is the typed view of a CapSeeds stage.
type SeedProducer interface {
	Stage
	Seeds() []Seed
}

// AsRasterProducer returns the raster view of s when its kind provides one.
func AsRasterProducer(s Stage) (RasterProducer, bool) {
	if s == nil || !s.Kind().Capabilities().Has(CapRaster) {
		return nil, false
	}
	rp, ok := s.(RasterProducer)
	return rp, ok
}

// AsSurfaceProducer returns the surface view of s when its kind provides one.
func AsSurfaceProducer(s Stage) (SurfaceProducer, bool) {
	if s == nil || !s.Kind().Capabilities().Has(CapSurface) {
		return nil, false
	}
	sp, ok := s.(SurfaceProducer)
	return sp, ok
}

// AsSeedProducer returns the seed view of s when its kind provides one.
func AsSeedProducer(s Stage) (SeedProducer, bool) {
	if s == nil || !s.Kind().Capabilities().Has(CapSeeds) {
		return nil, false
	}
	sp, ok := s.(SeedProducer)
	return sp, ok
}

// base holds the fields shared by every stage.
type base struct {
	kind   Kind
	uid    string
	filter *filter.Filter
	output string

	match query.Filter
}

func newBase(k Kind, sc StageConfig, f *filter.Filter) base {
	return base{kind: k, uid: sc.ID, filter: f, output: sc.Output}
}

func (b *base) Kind() Kind { return b.kind }

func (b *base) UID() string { return b.uid }

func (b *base) Name() string { return b.kind.String() }

func (b *base) Output() string { return b.output }

func (b *base) Streamable() bool { return false }

func (b *base) BufferMargin() float64 { return 0 }

func (b *base) NeedsPoints() bool { return true }

func (b *base) Filter() string {
	if b.filter == nil {
		return ""
	}
	return b.filter.String()
}

// cloneBase returns a copy without per-chunk state.
func (b *base) cloneBase() base {
	c := *b
	c.match = nil
	return c
}

// bind resolves the filter against schema.
func (b *base) bind(schema *pointcloud.Schema) error {
	m, err := b.filter.Bind(schema)
	if err != nil {
		return err
	}
	b.match = m
	return nil
}

// accepts reports whether the stage applies to p.
func (b *base) accepts(p *pointcloud.Point) bool {
	return b.match == nil || b.match(p)
}

// binder is implemented by every stage through base.
type binder interface {
	bind(schema *pointcloud.Schema) error
	accepts(p *pointcloud.Point) bool
}
