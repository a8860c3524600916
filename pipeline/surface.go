package pipeline

import (
	"context"
	"math"

	"github.com/lidarkit/cloudpipe/spatial"
)

// Vertex is an input point of a surface.
type Vertex struct {
	X, Y, Z float64
}

// SurfaceBuilder turns vertices into a Surface. maxEdge bounds the distance
// over which the surface may bridge gaps between vertices.
type SurfaceBuilder func(ctx context.Context, vertices []Vertex, maxEdge float64) (Surface, error)

// IDWSurfaceBuilder builds an inverse distance weighted surface. Heights
// are interpolated from the vertices within maxEdge of the query location;
// the surface is undefined where there are none.
func IDWSurfaceBuilder(ctx context.Context, vertices []Vertex, maxEdge float64) (Surface, error) {
	extent := spatial.EmptyBBox()
	for _, v := range vertices {
		extent = extent.Add(v.X, v.Y)
	}
	s := &idwSurface{vertices: vertices, radius: maxEdge, extent: extent}
	if len(vertices) == 0 {
		return s, nil
	}
	g, err := spatial.NewGrid(extent, max(maxEdge/2, spatial.DefaultCellSize(extent, len(vertices))))
	if err != nil {
		return nil, err
	}
	for i, v := range vertices {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		g.Insert(v.X, v.Y, uint32(i))
	}
	s.grid = g
	return s, nil
}

type idwSurface struct {
	vertices []Vertex
	radius   float64
	extent   spatial.BBox
	grid     *spatial.Grid
}

const idwCoincident = 1e-9

func (s *idwSurface) Interpolate(x, y float64) (float64, bool) {
	if s.grid == nil {
		return 0, false
	}
	r2 := s.radius * s.radius
	var wsum, zsum float64
	box := spatial.BBox{MinX: x - s.radius, MinY: y - s.radius, MaxX: x + s.radius, MaxY: y + s.radius}
	for _, iv := range s.grid.Query(box) {
		for id := uint64(iv.Start); id <= uint64(iv.End); id++ {
			v := s.vertices[id]
			dx, dy := v.X-x, v.Y-y
			d2 := dx*dx + dy*dy
			if d2 > r2 {
				continue
			}
			if d2 < idwCoincident {
				return v.Z, true
			}
			w := 1 / d2
			wsum += w
			zsum += w * v.Z
		}
	}
	if wsum == 0 || math.IsNaN(zsum) {
		return 0, false
	}
	return zsum / wsum, true
}

func (s *idwSurface) Vertices(fn func(x, y, z float64)) {
	for _, v := range s.vertices {
		fn(v.X, v.Y, v.Z)
	}
}

func (s *idwSurface) Extent() spatial.BBox { return s.extent }

func (s *idwSurface) Len() int { return len(s.vertices) }
