package pipeline

import (
	"context"
	"fmt"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/raster"
)

type rasterizeParams struct {
	Res     float64 `yaml:"res"`
	Method  string  `yaml:"method"`
	Connect string  `yaml:"connect"`
}

var rasterMethods = map[string]bool{"max": true, "min": true, "mean": true, "count": true}

// Rasterize aggregates point heights into a grid, or samples a connected
// surface at cell centres.
type Rasterize struct {
	base
	res     float64
	method  string
	connect Handle

	r      *raster.Raster
	counts []uint32
	sums   []float64
	done   bool
}

func newRasterize(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := rasterizeParams{Method: "max"}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if !(p.Res > 0) {
		return nil, r.invalid("res must be positive")
	}
	if !rasterMethods[p.Method] {
		return nil, r.invalid("unknown method %q", p.Method)
	}
	h, err := r.resolveOptional("connect", p.Connect, CapSurface)
	if err != nil {
		return nil, err
	}
	return &Rasterize{base: newBase(KindRasterize, sc, f), res: p.Res, method: p.Method, connect: h}, nil
}

func (s *Rasterize) connected() bool { return s.connect >= 0 }

func (s *Rasterize) Streamable() bool { return !s.connected() }

// BufferMargin is one cell when the raster interpolates a surface, so
// border cells see the surface around them.
func (s *Rasterize) BufferMargin() float64 {
	if s.connected() {
		return s.res
	}
	return 0
}

func (s *Rasterize) Clone() Stage {
	return &Rasterize{base: s.cloneBase(), res: s.res, method: s.method, connect: s.connect}
}

// Raster returns the grid of the current chunk.
func (s *Rasterize) Raster() *raster.Raster { return s.r }

func (s *Rasterize) init(env *Env) error {
	if s.r != nil {
		return nil
	}
	r, err := raster.New(env.rasterExtent(), s.res)
	if err != nil {
		return err
	}
	s.r = r
	s.counts = make([]uint32, r.Len())
	if s.method == "mean" {
		s.sums = make([]float64, r.Len())
	}
	return nil
}

func (s *Rasterize) ProcessHeader(_ context.Context, env *Env) error {
	if env.Header.Extent.IsEmpty() {
		return nil
	}
	return s.init(env)
}

func (s *Rasterize) ProcessPoint(_ context.Context, env *Env, p *pointcloud.Point) error {
	if s.r == nil {
		return nil
	}
	s.add(p.X(), p.Y(), p.Z())
	return nil
}

func (s *Rasterize) add(x, y, z float64) {
	cell := s.r.Cell(x, y)
	if cell < 0 {
		return
	}
	n := s.counts[cell]
	s.counts[cell]++
	v := float32(z)
	switch s.method {
	case "max":
		if n == 0 || v > s.r.Value(cell) {
			s.r.Set(cell, v)
		}
	case "min":
		if n == 0 || v < s.r.Value(cell) {
			s.r.Set(cell, v)
		}
	case "mean":
		s.sums[cell] += z
	}
}

func (s *Rasterize) Process(ctx context.Context, env *Env) error {
	if env.Buffer.Len() == 0 {
		return nil
	}
	if err := s.init(env); err != nil {
		return err
	}
	if s.connected() {
		return s.interpolate(ctx, env)
	}
	if err := env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		s.add(p.X(), p.Y(), p.Z())
		return nil
	}); err != nil {
		return err
	}
	s.finalize()
	return nil
}

func (s *Rasterize) interpolate(ctx context.Context, env *Env) error {
	sp, ok := AsSurfaceProducer(env.Stage(s.connect))
	if !ok {
		return fmt.Errorf("%w: connect is not a surface", ErrIncompatibleStages)
	}
	surf := sp.Surface()
	if surf == nil {
		return nil
	}
	for cell := range s.r.Len() {
		if cell%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		x, y := s.r.Center(cell)
		if z, ok := surf.Interpolate(x, y); ok {
			s.r.Set(cell, float32(z))
		}
	}
	s.done = true
	return nil
}

// finalize turns the accumulators into cell values. It runs once.
func (s *Rasterize) finalize() {
	if s.done || s.r == nil {
		return
	}
	s.done = true
	for cell, n := range s.counts {
		switch {
		case n == 0:
		case s.method == "mean":
			s.r.Set(cell, float32(s.sums[cell]/float64(n)))
		case s.method == "count":
			s.r.Set(cell, float32(n))
		}
	}
}

func (s *Rasterize) Finish(ctx context.Context, env *Env) error {
	s.finalize()
	return env.writeRaster(ctx, s.output, s.r)
}
