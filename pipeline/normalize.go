package pipeline

import (
	"context"
	"fmt"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
)

type transformParams struct {
	Connect          string `yaml:"connect"`
	Operator         string `yaml:"operator"`
	StoreInAttribute string `yaml:"store_in_attribute"`
}

// TransformWithTriangulation subtracts (or adds) the height of a connected
// surface from each point. Points outside the surface are left unchanged.
type TransformWithTriangulation struct {
	base
	connect  Handle
	operator string
	store    string
}

func newTransformWithTriangulation(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := transformParams{Operator: "-"}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if p.Operator != "-" && p.Operator != "+" {
		return nil, r.invalid("operator must be '-' or '+', got %q", p.Operator)
	}
	if p.Connect == "" {
		return nil, r.invalid("connect is required")
	}
	h, err := r.resolve("connect", p.Connect, CapSurface)
	if err != nil {
		return nil, err
	}
	return &TransformWithTriangulation{
		base:     newBase(KindTransformWithTriangulation, sc, f),
		connect:  h,
		operator: p.Operator,
		store:    p.StoreInAttribute,
	}, nil
}

func (s *TransformWithTriangulation) Clone() Stage {
	c := *s
	c.base = s.cloneBase()
	return &c
}

func (s *TransformWithTriangulation) Process(ctx context.Context, env *Env) error {
	sp, ok := AsSurfaceProducer(env.Stage(s.connect))
	if !ok {
		return fmt.Errorf("%w: connect is not a surface", ErrIncompatibleStages)
	}
	surf := sp.Surface()
	if surf == nil {
		return nil
	}

	var dst pointcloud.Handle = -1
	if s.store != "" {
		if !env.Buffer.Schema().Has(s.store) {
			if err := env.Buffer.AddAttribute(pointcloud.Attribute{
				Name:        s.store,
				Type:        pointcloud.TypeInt32,
				Scale:       0.001,
				Description: "height above surface",
			}); err != nil {
				return err
			}
		}
		h, err := env.Buffer.Schema().Handle(s.store)
		if err != nil {
			return err
		}
		dst = h
	}

	sign := -1.0
	if s.operator == "+" {
		sign = 1
	}
	return env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		x, y, z := p.X(), p.Y(), p.Z()
		ground, ok := surf.Interpolate(x, y)
		if !ok {
			return nil
		}
		v := z + sign*ground
		if dst >= 0 {
			p.SetValue(dst, v)
		} else {
			p.SetXYZ(x, y, v)
		}
		return nil
	})
}
