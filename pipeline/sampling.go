package pipeline

import (
	"context"
	"math"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/spatial"
)

type voxelKey struct {
	x, y, z int64
}

func voxelOf(x, y, z, res float64) voxelKey {
	return voxelKey{int64(math.Floor(x / res)), int64(math.Floor(y / res)), int64(math.Floor(z / res))}
}

type resParams struct {
	Res float64 `yaml:"res"`
}

// SamplingVoxel keeps the first point of every res×res×res voxel and
// withholds the others.
type SamplingVoxel struct {
	base
	res float64
}

func newSamplingVoxel(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	var p resParams
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if !(p.Res > 0) {
		return nil, r.invalid("res must be positive")
	}
	return &SamplingVoxel{base: newBase(KindSamplingVoxel, sc, f), res: p.Res}, nil
}

func (s *SamplingVoxel) BufferMargin() float64 { return s.res }

func (s *SamplingVoxel) Clone() Stage {
	return &SamplingVoxel{base: s.cloneBase(), res: s.res}
}

func (s *SamplingVoxel) Process(ctx context.Context, env *Env) error {
	seen := make(map[voxelKey]struct{})
	return env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		k := voxelOf(p.X(), p.Y(), p.Z(), s.res)
		if _, dup := seen[k]; dup {
			return env.Buffer.MarkWithheld()
		}
		seen[k] = struct{}{}
		return nil
	})
}

type samplingPixelParams struct {
	Res    float64 `yaml:"res"`
	Method string  `yaml:"method"`
}

// SamplingPixel keeps one point per res×res pixel: the first, the highest
// or the lowest.
type SamplingPixel struct {
	base
	res    float64
	method string
}

func newSamplingPixel(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := samplingPixelParams{Method: "first"}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if !(p.Res > 0) {
		return nil, r.invalid("res must be positive")
	}
	switch p.Method {
	case "first", "highest", "lowest":
	default:
		return nil, r.invalid("unknown method %q", p.Method)
	}
	return &SamplingPixel{base: newBase(KindSamplingPixel, sc, f), res: p.Res, method: p.Method}, nil
}

func (s *SamplingPixel) BufferMargin() float64 { return s.res }

func (s *SamplingPixel) Clone() Stage {
	return &SamplingPixel{base: s.cloneBase(), res: s.res, method: s.method}
}

func (s *SamplingPixel) Process(ctx context.Context, env *Env) error {
	type pick struct {
		id uint32
		z  float64
	}
	best := make(map[voxelKey]pick)
	if err := env.eachPoint(ctx, s.match, func(id uint32, p *pointcloud.Point) error {
		k := voxelOf(p.X(), p.Y(), 0, s.res)
		z := p.Z()
		cur, ok := best[k]
		switch {
		case !ok:
		case s.method == "highest" && z > cur.z:
		case s.method == "lowest" && z < cur.z:
		default:
			return nil
		}
		best[k] = pick{id: id, z: z}
		return nil
	}); err != nil {
		return err
	}
	return env.eachPoint(ctx, s.match, func(id uint32, p *pointcloud.Point) error {
		if best[voxelOf(p.X(), p.Y(), 0, s.res)].id != id {
			return env.Buffer.MarkWithheld()
		}
		return nil
	})
}

type samplingPoissonParams struct {
	Distance float64 `yaml:"distance"`
}

// SamplingPoisson keeps points in id order as long as no kept point lies
// within distance in 3D.
type SamplingPoisson struct {
	base
	distance float64
}

func newSamplingPoisson(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	var p samplingPoissonParams
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if !(p.Distance > 0) {
		return nil, r.invalid("distance must be positive")
	}
	return &SamplingPoisson{base: newBase(KindSamplingPoisson, sc, f), distance: p.Distance}, nil
}

func (s *SamplingPoisson) BufferMargin() float64 { return s.distance }

func (s *SamplingPoisson) Clone() Stage {
	return &SamplingPoisson{base: s.cloneBase(), distance: s.distance}
}

func (s *SamplingPoisson) Process(ctx context.Context, env *Env) error {
	kept, err := spatial.NewGrid(env.Buffer.Bounds(), s.distance)
	if err != nil {
		return err
	}
	d2 := s.distance * s.distance
	return env.eachPoint(ctx, s.match, func(id uint32, p *pointcloud.Point) error {
		x, y, z := p.X(), p.Y(), p.Z()
		box := spatial.BBox{MinX: x - s.distance, MinY: y - s.distance, MaxX: x + s.distance, MaxY: y + s.distance}
		for _, iv := range kept.Query(box) {
			for k := uint64(iv.Start); k <= uint64(iv.End); k++ {
				kx, ky, kz := env.Buffer.XYZ(uint32(k))
				dx, dy, dz := kx-x, ky-y, kz-z
				if dx*dx+dy*dy+dz*dz < d2 {
					return env.Buffer.MarkWithheld()
				}
			}
		}
		kept.Insert(x, y, id)
		return nil
	})
}
