package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
)

type boundariesParams struct {
	Connect string `yaml:"connect"`
}

// XY is a planimetric coordinate.
type XY struct {
	X, Y float64
}

// Boundaries computes the convex hull of the selected points, or of the
// vertices of a connected surface, and writes it as a WKT polygon.
type Boundaries struct {
	base
	connect Handle

	hull []XY
}

func newBoundaries(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	var p boundariesParams
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	h, err := r.resolveOptional("connect", p.Connect, CapSurface)
	if err != nil {
		return nil, err
	}
	return &Boundaries{base: newBase(KindBoundaries, sc, f), connect: h}, nil
}

func (s *Boundaries) Clone() Stage {
	return &Boundaries{base: s.cloneBase(), connect: s.connect}
}

// Hull returns the counter-clockwise hull of the current chunk without the
// closing vertex.
func (s *Boundaries) Hull() []XY { return s.hull }

func (s *Boundaries) Process(ctx context.Context, env *Env) error {
	var pts []XY
	if s.connect >= 0 {
		sp, ok := AsSurfaceProducer(env.Stage(s.connect))
		if !ok {
			return fmt.Errorf("%w: connect is not a surface", ErrIncompatibleStages)
		}
		if surf := sp.Surface(); surf != nil {
			surf.Vertices(func(x, y, _ float64) { pts = append(pts, XY{x, y}) })
		}
	} else if err := env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		pts = append(pts, XY{p.X(), p.Y()})
		return nil
	}); err != nil {
		return err
	}
	s.hull = convexHull(pts)
	return nil
}

func cross(o, a, b XY) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// convexHull is Andrew's monotone chain. Collinear points are dropped.
func convexHull(pts []XY) []XY {
	slices.SortFunc(pts, func(a, b XY) int {
		if c := cmp.Compare(a.X, b.X); c != 0 {
			return c
		}
		return cmp.Compare(a.Y, b.Y)
	})
	pts = slices.Compact(pts)
	if len(pts) < 3 {
		return pts
	}
	hull := make([]XY, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// WKT formats a hull as a closed polygon.
func WKT(hull []XY) string {
	if len(hull) < 3 {
		return "POLYGON EMPTY"
	}
	var sb strings.Builder
	sb.WriteString("POLYGON ((")
	for i := 0; i <= len(hull); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		p := hull[i%len(hull)]
		fmt.Fprintf(&sb, "%.3f %.3f", p.X, p.Y)
	}
	sb.WriteString("))")
	return sb.String()
}

func (s *Boundaries) Finish(ctx context.Context, env *Env) error {
	if s.output == "" {
		return nil
	}
	return env.put(ctx, s.output, []byte(WKT(s.hull)+"\n"))
}
