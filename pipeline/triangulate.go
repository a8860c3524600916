package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
)

// DefaultMaxEdge is the margin of a triangulation without max_edge.
const DefaultMaxEdge = 50.0

type triangulateParams struct {
	MaxEdge float64 `yaml:"max_edge"`
}

// Triangulate builds a height surface from the selected points.
type Triangulate struct {
	base
	maxEdge float64
	builder SurfaceBuilder

	surface Surface
}

func newTriangulate(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	var p triangulateParams
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if p.MaxEdge < 0 {
		return nil, r.invalid("max_edge must not be negative")
	}
	if p.MaxEdge == 0 {
		p.MaxEdge = DefaultMaxEdge
	}
	return &Triangulate{base: newBase(KindTriangulate, sc, f), maxEdge: p.MaxEdge, builder: r.opts.surface}, nil
}

func (s *Triangulate) BufferMargin() float64 { return s.maxEdge }

func (s *Triangulate) Clone() Stage {
	return &Triangulate{base: s.cloneBase(), maxEdge: s.maxEdge, builder: s.builder}
}

// Surface returns the surface of the current chunk.
func (s *Triangulate) Surface() Surface { return s.surface }

func (s *Triangulate) Process(ctx context.Context, env *Env) error {
	var vs []Vertex
	if err := env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		vs = append(vs, Vertex{X: p.X(), Y: p.Y(), Z: p.Z()})
		return nil
	}); err != nil {
		return err
	}
	surf, err := s.builder(ctx, vs, s.maxEdge)
	if err != nil {
		return err
	}
	s.surface = surf
	env.Logger.Debug("surface built", "chunk", env.Chunk.ID, "vertices", surf.Len())
	return nil
}

// Finish writes the vertices inside the chunk core as x,y,z lines.
func (s *Triangulate) Finish(ctx context.Context, env *Env) error {
	if s.output == "" || s.surface == nil {
		return nil
	}
	core := env.Core()
	var buf bytes.Buffer
	buf.WriteString("x,y,z\n")
	s.surface.Vertices(func(x, y, z float64) {
		if core.Contains(x, y) {
			fmt.Fprintf(&buf, "%.3f,%.3f,%.3f\n", x, y, z)
		}
	})
	return env.put(ctx, s.output, buf.Bytes())
}
