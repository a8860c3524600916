package catalog

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/spatial"
)

// Epsilon is the minimal margin read around a chunk whose neighbours
// touch it, so points lying exactly on a shared edge are not lost.
const Epsilon = 1e-8

// ErrUnsupportedShape is returned for query shapes other than rectangles
// and circles.
var ErrUnsupportedShape = errors.New("catalog: query shape must be a rectangle or a circle")

// Chunk is one out-of-core unit of work.
type Chunk struct {
	ID   int
	Name string
	// Shape is the core region, a spatial.Rectangle or spatial.Circle.
	Shape spatial.Shape
	// Core is the bounding box of Shape.
	Core   spatial.BBox
	Buffer float64
	// MainFiles intersect the core; NeighborFiles only intersect the
	// buffered region.
	MainFiles     []string
	NeighborFiles []string
}

// EffectiveBuffer is Buffer, or Epsilon when Buffer is zero and the chunk
// has neighbours.
func (c *Chunk) EffectiveBuffer() float64 {
	if c.Buffer == 0 && len(c.NeighborFiles) > 0 {
		return Epsilon
	}
	return c.Buffer
}

// HasBuffer reports whether points around the core are read.
func (c *Chunk) HasBuffer() bool { return c.EffectiveBuffer() > 0 }

// ReadShape is the core grown by the effective buffer plus Epsilon.
func (c *Chunk) ReadShape() spatial.Shape {
	return spatial.Buffered(c.Shape, c.EffectiveBuffer()+Epsilon)
}

// Files returns the main files followed by the neighbours.
func (c *Chunk) Files() []string {
	return slices.Concat(c.MainFiles, c.NeighborFiles)
}

// Request returns the read request of the chunk. The core is attached
// only when the chunk is buffered.
func (c *Chunk) Request() reader.Request {
	req := reader.Request{Files: c.Files(), Shape: c.ReadShape()}
	if c.HasBuffer() {
		core := c.Core
		req.Core = &core
	}
	return req
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk %d %q [%g %g, %g %g] buffer=%g files=%d+%d",
		c.ID, c.Name, c.Core.MinX, c.Core.MinY, c.Core.MaxX, c.Core.MaxY,
		c.Buffer, len(c.MainFiles), len(c.NeighborFiles))
}

// PlanOptions selects how the catalog is split.
type PlanOptions struct {
	// ChunkSize tiles the catalog extent with squares of this edge. Zero
	// makes one chunk per file.
	ChunkSize float64
	// Buffer is the margin read around every chunk.
	Buffer float64
	// Queries, when set, replace tiling: each shape becomes one chunk.
	Queries []spatial.Shape
}

// Plan splits the catalog into chunks. Chunks that touch no file are
// skipped.
func (c *Catalog) Plan(opts PlanOptions) ([]Chunk, error) {
	if len(c.files) == 0 {
		return nil, ErrEmpty
	}
	if opts.Buffer < 0 || opts.ChunkSize < 0 {
		return nil, fmt.Errorf("catalog: negative chunk size or buffer")
	}

	var chunks []Chunk
	add := func(name string, shape spatial.Shape) {
		ch, ok := c.chunk(len(chunks), name, shape, opts.Buffer)
		if ok {
			chunks = append(chunks, ch)
		}
	}

	switch {
	case len(opts.Queries) > 0:
		for i, q := range opts.Queries {
			switch q.(type) {
			case spatial.Rectangle, spatial.Circle:
			default:
				return nil, fmt.Errorf("%w: %T", ErrUnsupportedShape, q)
			}
			add(fmt.Sprintf("query_%d", i), q)
		}
	case opts.ChunkSize > 0:
		size := opts.ChunkSize
		e := c.extent
		x0, y0 := math.Floor(e.MinX/size)*size, math.Floor(e.MinY/size)*size
		nx := max(1, int(math.Ceil((e.MaxX-x0)/size)))
		ny := max(1, int(math.Ceil((e.MaxY-y0)/size)))
		for j := range ny {
			for i := range nx {
				x, y := x0+float64(i)*size, y0+float64(j)*size
				add(fmt.Sprintf("%d_%d", int64(x), int64(y)), spatial.NewRectangle(x, y, x+size, y+size))
			}
		}
	default:
		for _, f := range c.files {
			ch, ok := c.fileChunk(len(chunks), f, opts.Buffer)
			if ok {
				chunks = append(chunks, ch)
			}
		}
	}
	return chunks, nil
}

func (c *Catalog) chunk(id int, name string, shape spatial.Shape, buffer float64) (Chunk, bool) {
	core := shape.BBox()
	main := c.overlapping(core)
	if len(main) == 0 {
		return Chunk{}, false
	}
	ch := Chunk{ID: id, Name: name, Shape: shape, Core: core, Buffer: buffer, MainFiles: main}
	for _, n := range c.Intersecting(core.Expand(buffer + Epsilon)) {
		if !slices.Contains(main, n) {
			ch.NeighborFiles = append(ch.NeighborFiles, n)
		}
	}
	return ch, true
}

func (c *Catalog) fileChunk(id int, f FileInfo, buffer float64) (Chunk, bool) {
	if f.Extent.IsEmpty() {
		return Chunk{}, false
	}
	ch := Chunk{
		ID:        id,
		Name:      BaseName(f.Name),
		Shape:     spatial.RectangleFromBBox(f.Extent),
		Core:      f.Extent,
		Buffer:    buffer,
		MainFiles: []string{f.Name},
	}
	for _, n := range c.Intersecting(f.Extent.Expand(buffer)) {
		if n != f.Name {
			ch.NeighborFiles = append(ch.NeighborFiles, n)
		}
	}
	return ch, true
}

// overlapping returns the files sharing area with core. A file that only
// touches an edge of core is left to the neighbours, unless the file or the
// core has no extent along that axis.
func (c *Catalog) overlapping(core spatial.BBox) []string {
	var names []string
	for _, f := range c.files {
		if overlaps(f.Extent, core) {
			names = append(names, f.Name)
		}
	}
	return names
}

func overlaps(a, b spatial.BBox) bool {
	if !a.Intersects(b) {
		return false
	}
	edgeX := min(a.MaxX, b.MaxX) == max(a.MinX, b.MinX) && a.Width() > 0 && b.Width() > 0
	edgeY := min(a.MaxY, b.MaxY) == max(a.MinY, b.MinY) && a.Height() > 0 && b.Height() > 0
	return !edgeX && !edgeY
}
