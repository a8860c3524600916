package pipeline

import (
	"context"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
)

type nothingParams struct {
	Read   bool `yaml:"read"`
	Stream bool `yaml:"stream"`
	Loop   bool `yaml:"loop"`
}

// Nothing does nothing. Its parameters force the execution mode, which is
// useful for benchmarking the reading and indexing of a catalog: read
// loads the points, stream=false forces buffered execution and loop walks
// the buffer once.
type Nothing struct {
	base
	p nothingParams
}

func newNothing(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := nothingParams{Stream: true}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	return &Nothing{base: newBase(KindNothing, sc, f), p: p}, nil
}

func (s *Nothing) Streamable() bool { return s.p.Stream }

func (s *Nothing) NeedsPoints() bool { return s.p.Read || s.p.Loop }

func (s *Nothing) Clone() Stage {
	return &Nothing{base: s.cloneBase(), p: s.p}
}

func (s *Nothing) ProcessPoint(context.Context, *Env, *pointcloud.Point) error { return nil }

func (s *Nothing) Process(ctx context.Context, env *Env) error {
	if !s.p.Loop {
		return nil
	}
	return env.eachPoint(ctx, s.match, func(uint32, *pointcloud.Point) error { return nil })
}
