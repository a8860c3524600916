package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/raster"
)

type regionGrowingParams struct {
	Connect1 string  `yaml:"connect1"`
	Connect2 string  `yaml:"connect2"`
	ThTree   float64 `yaml:"th_tree"`
	ThSeed   float64 `yaml:"th_seed"`
	ThCR     float64 `yaml:"th_cr"`
	MaxCR    float64 `yaml:"max_cr"`
}

// RegionGrowing segments a height raster into crowns grown from seeds.
// Seeds are processed from the highest down. A cell joins a region when it
// is above th_tree, above th_seed times the seed height, above th_cr times
// the mean height of the region so far and within max_cr of the seed. The
// output raster holds the seed id of each cell.
type RegionGrowing struct {
	base
	seeds  Handle
	chm    Handle
	thTree float64
	thSeed float64
	thCR   float64
	maxCR  float64

	r *raster.Raster
}

func newRegionGrowing(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := regionGrowingParams{ThTree: 2, ThSeed: 0.45, ThCR: 0.55, MaxCR: 20}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if !(p.MaxCR > 0) {
		return nil, r.invalid("max_cr must be positive")
	}
	if p.Connect1 == "" || p.Connect2 == "" {
		return nil, r.invalid("connect1 and connect2 are required")
	}
	seeds, err := r.resolve("connect1", p.Connect1, CapSeeds)
	if err != nil {
		return nil, err
	}
	chm, err := r.resolve("connect2", p.Connect2, CapRaster)
	if err != nil {
		return nil, err
	}
	return &RegionGrowing{
		base:   newBase(KindRegionGrowing, sc, f),
		seeds:  seeds,
		chm:    chm,
		thTree: p.ThTree,
		thSeed: p.ThSeed,
		thCR:   p.ThCR,
		maxCR:  p.MaxCR,
	}, nil
}

func (s *RegionGrowing) BufferMargin() float64 { return s.maxCR }

func (s *RegionGrowing) Clone() Stage {
	c := *s
	c.base = s.cloneBase()
	c.r = nil
	return &c
}

// Raster returns the segment raster of the current chunk.
func (s *RegionGrowing) Raster() *raster.Raster { return s.r }

func (s *RegionGrowing) Process(ctx context.Context, env *Env) error {
	sp, ok := AsSeedProducer(env.Stage(s.seeds))
	if !ok {
		return fmt.Errorf("%w: connect1 is not a seed producer", ErrIncompatibleStages)
	}
	rp, ok := AsRasterProducer(env.Stage(s.chm))
	if !ok {
		return fmt.Errorf("%w: connect2 is not a raster", ErrIncompatibleStages)
	}
	chm := rp.Raster()
	if chm == nil {
		return nil
	}
	out, err := s.grow(ctx, chm, sp.Seeds())
	if err != nil {
		return err
	}
	s.r = out
	return nil
}

type region struct {
	id     uint32
	x, y   float64
	height float64
	sum    float64
	n      int
}

func (s *RegionGrowing) grow(ctx context.Context, chm *raster.Raster, seeds []Seed) (*raster.Raster, error) {
	labels, err := raster.New(chm.Extent(), chm.Resolution())
	if err != nil {
		return nil, err
	}

	ordered := slices.Clone(seeds)
	slices.SortStableFunc(ordered, func(a, b Seed) int {
		switch {
		case a.Z > b.Z:
			return -1
		case a.Z < b.Z:
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})

	owner := make([]int, chm.Len())
	for i := range owner {
		owner[i] = -1
	}
	var regions []*region
	var frontier []int
	for _, sd := range ordered {
		cell := chm.Cell(sd.X, sd.Y)
		if cell < 0 || owner[cell] >= 0 {
			continue
		}
		v := chm.Value(cell)
		if raster.IsNoData(v) || float64(v) < s.thTree {
			continue
		}
		owner[cell] = len(regions)
		regions = append(regions, &region{id: sd.ID, x: sd.X, y: sd.Y, height: float64(v), sum: float64(v), n: 1})
		frontier = append(frontier, cell)
	}

	// Breadth-first growth in rounds so regions expand at the same pace.
	var next []int
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next = next[:0]
		for _, cell := range frontier {
			rg := regions[owner[cell]]
			col, row := chm.ColRow(cell)
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nc := chm.CellIndex(col+d[0], row+d[1])
				if nc < 0 || owner[nc] >= 0 {
					continue
				}
				if s.accepts(chm, nc, rg) {
					owner[nc] = owner[cell]
					v := float64(chm.Value(nc))
					rg.sum += v
					rg.n++
					next = append(next, nc)
				}
			}
		}
		frontier, next = next, frontier
	}

	for cell, o := range owner {
		if o >= 0 {
			labels.Set(cell, float32(regions[o].id))
		}
	}
	return labels, nil
}

func (s *RegionGrowing) accepts(chm *raster.Raster, cell int, rg *region) bool {
	v := float64(chm.Value(cell))
	if math.IsNaN(v) || v < s.thTree {
		return false
	}
	if v < s.thSeed*rg.height || v < s.thCR*(rg.sum/float64(rg.n)) {
		return false
	}
	x, y := chm.Center(cell)
	return math.Hypot(x-rg.x, y-rg.y) <= s.maxCR
}

func (s *RegionGrowing) Finish(ctx context.Context, env *Env) error {
	return env.writeRaster(ctx, s.output, s.r)
}
