package pipeline

import (
	"context"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
)

type classifyParams struct {
	Res   float64 `yaml:"res"`
	N     int     `yaml:"n"`
	Class int     `yaml:"class"`
}

// ClassifyIsolatedPoints assigns class to points having fewer than n other
// points in the 27 voxels around them.
type ClassifyIsolatedPoints struct {
	base
	res   float64
	n     int
	class int
}

func newClassifyIsolatedPoints(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := classifyParams{Res: 5, N: 6, Class: 18}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if !(p.Res > 0) || p.N < 1 {
		return nil, r.invalid("res must be positive and n at least 1")
	}
	if p.Class < 0 || p.Class > 255 {
		return nil, r.invalid("class %d out of range", p.Class)
	}
	return &ClassifyIsolatedPoints{base: newBase(KindClassifyIsolatedPoints, sc, f), res: p.Res, n: p.N, class: p.Class}, nil
}

func (s *ClassifyIsolatedPoints) BufferMargin() float64 { return s.res }

func (s *ClassifyIsolatedPoints) Clone() Stage {
	c := *s
	c.base = s.cloneBase()
	return &c
}

func (s *ClassifyIsolatedPoints) Process(ctx context.Context, env *Env) error {
	cls, err := env.Buffer.Schema().Handle(pointcloud.AttrClassification)
	if err != nil {
		return err
	}
	counts := make(map[voxelKey]int)
	if err := env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		counts[voxelOf(p.X(), p.Y(), p.Z(), s.res)]++
		return nil
	}); err != nil {
		return err
	}

	isolated := 0
	err = env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		k := voxelOf(p.X(), p.Y(), p.Z(), s.res)
		others := -1
		for dx := int64(-1); dx <= 1; dx++ {
			for dy := int64(-1); dy <= 1; dy++ {
				for dz := int64(-1); dz <= 1; dz++ {
					others += counts[voxelKey{k.x + dx, k.y + dy, k.z + dz}]
				}
			}
		}
		if others < s.n {
			p.SetValue(cls, float64(s.class))
			isolated++
		}
		return nil
	})
	env.Logger.Debug("isolated points classified", "chunk", env.Chunk.ID, "points", isolated)
	return err
}
