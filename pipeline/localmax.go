package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/query"
	"github.com/lidarkit/cloudpipe/spatial"
)

type localMaximumParams struct {
	WS        float64 `yaml:"ws"`
	MinHeight float64 `yaml:"min_height"`
}

// LocalMaximum finds points that are the highest within a circular window
// of diameter ws. Equal heights are resolved in favour of the lower id.
// Only maxima inside the chunk core are kept, so seeds are never reported
// twice by neighbouring chunks.
type LocalMaximum struct {
	base
	ws        float64
	minHeight float64

	seeds []Seed
}

func newLocalMaximum(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := localMaximumParams{WS: 5, MinHeight: 2}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if !(p.WS > 0) {
		return nil, r.invalid("ws must be positive")
	}
	return &LocalMaximum{base: newBase(KindLocalMaximum, sc, f), ws: p.WS, minHeight: p.MinHeight}, nil
}

func (s *LocalMaximum) BufferMargin() float64 { return s.ws }

func (s *LocalMaximum) Clone() Stage {
	return &LocalMaximum{base: s.cloneBase(), ws: s.ws, minHeight: s.minHeight}
}

// Seeds returns the maxima of the current chunk in id order.
func (s *LocalMaximum) Seeds() []Seed { return s.seeds }

func (s *LocalMaximum) Process(ctx context.Context, env *Env) error {
	s.seeds = s.seeds[:0]
	core := env.Core()
	half := s.ws / 2
	return env.eachPoint(ctx, s.match, func(id uint32, p *pointcloud.Point) error {
		x, y, z := p.X(), p.Y(), p.Z()
		if z < s.minHeight || !core.Contains(x, y) {
			return nil
		}
		res, err := env.Query.Query(ctx, spatial.Circle{X: x, Y: y, Radius: half}, query.WithFilter(s.match))
		if err != nil {
			return err
		}
		if res.Interrupted {
			return ctx.Err()
		}
		for _, m := range res.Matches {
			mz := m.Point.Z()
			if mz > z || (mz == z && m.ID < id) {
				return nil
			}
		}
		s.seeds = append(s.seeds, Seed{ID: id, X: x, Y: y, Z: z})
		return nil
	})
}

// Finish writes the seeds as id,x,y,z lines.
func (s *LocalMaximum) Finish(ctx context.Context, env *Env) error {
	if s.output == "" {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("id,x,y,z\n")
	for _, sd := range s.seeds {
		fmt.Fprintf(&buf, "%d,%.3f,%.3f,%.3f\n", sd.ID, sd.X, sd.Y, sd.Z)
	}
	return env.put(ctx, s.output, buf.Bytes())
}
