package pipeline

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/raster"
)

type pitFillParams struct {
	Connect string  `yaml:"connect"`
	LapSize int     `yaml:"lap_size"`
	ThrLap  float64 `yaml:"thr_lap"`
	ThrSpk  float64 `yaml:"thr_spk"`
	MedSize int     `yaml:"med_size"`
}

// PitFill removes pits and spikes from a connected height raster. A cell is
// a pit when it is lower than every neighbour and the mean of its
// neighbourhood exceeds it by more than thr_lap. It is a spike when it is
// higher than every neighbour and that difference is below thr_spk. Such
// cells are replaced by the median of their valid, unflagged neighbours.
type PitFill struct {
	base
	connect Handle
	lapSize int
	thrLap  float64
	thrSpk  float64
	medSize int

	r *raster.Raster
}

func newPitFill(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := pitFillParams{LapSize: 3, ThrLap: 0.1, ThrSpk: -0.1, MedSize: 3}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if p.LapSize < 3 || p.LapSize%2 == 0 || p.MedSize < 3 || p.MedSize%2 == 0 {
		return nil, r.invalid("lap_size and med_size must be odd and at least 3")
	}
	if p.Connect == "" {
		return nil, r.invalid("connect is required")
	}
	h, err := r.resolve("connect", p.Connect, CapRaster|CapRasterBuilder)
	if err != nil {
		return nil, err
	}
	return &PitFill{
		base:    newBase(KindPitFill, sc, f),
		connect: h,
		lapSize: p.LapSize,
		thrLap:  p.ThrLap,
		thrSpk:  p.ThrSpk,
		medSize: p.MedSize,
	}, nil
}

func (s *PitFill) Clone() Stage {
	c := *s
	c.base = s.cloneBase()
	c.r = nil
	return &c
}

// Raster returns the filled raster of the current chunk.
func (s *PitFill) Raster() *raster.Raster { return s.r }

func (s *PitFill) Process(ctx context.Context, env *Env) error {
	rp, ok := AsRasterProducer(env.Stage(s.connect))
	if !ok {
		return fmt.Errorf("%w: connect is not a raster", ErrIncompatibleStages)
	}
	src := rp.Raster()
	if src == nil {
		return nil
	}
	out, err := fillPits(ctx, src, s.lapSize/2, s.medSize/2, s.thrLap, s.thrSpk)
	if err != nil {
		return err
	}
	s.r = out
	return nil
}

func (s *PitFill) Finish(ctx context.Context, env *Env) error {
	return env.writeRaster(ctx, s.output, s.r)
}

// window calls fn for the valid cells around (col, row) within half cells,
// excluding the centre.
func window(r *raster.Raster, col, row, half int, fn func(cell int, v float32)) {
	for dr := -half; dr <= half; dr++ {
		for dc := -half; dc <= half; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			c := r.CellIndex(col+dc, row+dr)
			if c < 0 {
				continue
			}
			if v := r.Value(c); !raster.IsNoData(v) {
				fn(c, v)
			}
		}
	}
}

func fillPits(ctx context.Context, src *raster.Raster, lapHalf, medHalf int, thrLap, thrSpk float64) (*raster.Raster, error) {
	flagged := make([]bool, src.Len())
	for cell := range src.Len() {
		if cell%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		v := src.Value(cell)
		if raster.IsNoData(v) {
			continue
		}
		col, row := src.ColRow(cell)
		var sum float64
		n := 0
		lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
		window(src, col, row, lapHalf, func(_ int, nv float32) {
			sum += float64(nv)
			n++
			lo, hi = min(lo, nv), max(hi, nv)
		})
		if n == 0 {
			continue
		}
		lap := sum/float64(n) - float64(v)
		flagged[cell] = (lap > thrLap && v < lo) || (lap < thrSpk && v > hi)
	}

	out := src.Clone()
	var vals []float32
	for cell, bad := range flagged {
		if !bad {
			continue
		}
		col, row := src.ColRow(cell)
		vals = vals[:0]
		window(src, col, row, medHalf, func(c int, nv float32) {
			if !flagged[c] {
				vals = append(vals, nv)
			}
		})
		if len(vals) == 0 {
			continue
		}
		slices.Sort(vals)
		m := len(vals) / 2
		med := vals[m]
		if len(vals)%2 == 0 {
			med = (vals[m-1] + vals[m]) / 2
		}
		out.Set(cell, med)
	}
	return out, nil
}
