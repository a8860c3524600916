package pipeline

import (
	"context"
	"math"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/lidarkit/cloudpipe/codec"
	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
)

type summariseParams struct {
	ZHist float64 `yaml:"zhist"`
	IHist float64 `yaml:"ihist"`
	Codec string  `yaml:"codec"`
}

// Distribution describes one variable.
type Distribution struct {
	Min    float64            `json:"min"`
	Max    float64            `json:"max"`
	Mean   float64            `json:"mean"`
	StdDev float64            `json:"sd"`
	Q      map[string]float64 `json:"quantiles"`
	// Histogram maps the lower bound of each bin to its count.
	Histogram map[string]int `json:"histogram,omitempty"`
}

// Summary is the report of a summarise stage.
type Summary struct {
	Points         int            `json:"npoints"`
	FirstReturns   int            `json:"nsingle_first"`
	Classification map[string]int `json:"classification,omitempty"`
	Z              *Distribution  `json:"z,omitempty"`
	Intensity      *Distribution  `json:"intensity,omitempty"`
}

var summaryQuantiles = []float64{0.05, 0.25, 0.5, 0.75, 0.95}

// Summarise computes point counts and distributions of Z and intensity for
// the points of the chunk core.
type Summarise struct {
	base
	zhist float64
	ihist float64
	codec codec.Codec

	z, intensity []float64
	classes      map[int]int
	first        int
	clsH, intH   pointcloud.Handle
	retH         pointcloud.Handle
	summary      *Summary
}

func newSummarise(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := summariseParams{ZHist: 2, IHist: 50}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if p.ZHist < 0 || p.IHist < 0 {
		return nil, r.invalid("histogram bin widths must not be negative")
	}
	c, ok := codec.ByName(p.Codec)
	if !ok {
		return nil, r.invalid("unknown codec %q", p.Codec)
	}
	return &Summarise{base: newBase(KindSummarise, sc, f), zhist: p.ZHist, ihist: p.IHist, codec: c}, nil
}

func (s *Summarise) Streamable() bool { return true }

func (s *Summarise) Clone() Stage {
	return &Summarise{base: s.cloneBase(), zhist: s.zhist, ihist: s.ihist, codec: s.codec}
}

// Summary returns the report of the current chunk, available after Finish.
func (s *Summarise) Summary() *Summary { return s.summary }

func (s *Summarise) ProcessHeader(_ context.Context, env *Env) error {
	s.reset(env.Header.Schema)
	return nil
}

func (s *Summarise) reset(schema *pointcloud.Schema) {
	s.z, s.intensity = s.z[:0], s.intensity[:0]
	s.classes = make(map[int]int)
	s.first = 0
	s.clsH, s.intH, s.retH = -1, -1, -1
	if h, err := schema.Handle(pointcloud.AttrClassification); err == nil {
		s.clsH = h
	}
	if h, err := schema.Handle(pointcloud.AttrIntensity); err == nil {
		s.intH = h
	}
	if h, err := schema.Handle(pointcloud.AttrReturnNumber); err == nil {
		s.retH = h
	}
}

func (s *Summarise) ProcessPoint(_ context.Context, env *Env, p *pointcloud.Point) error {
	if env.Header.InCore(p.X(), p.Y()) {
		s.add(p)
	}
	return nil
}

func (s *Summarise) add(p *pointcloud.Point) {
	s.z = append(s.z, p.Z())
	if s.intH >= 0 {
		s.intensity = append(s.intensity, p.Value(s.intH))
	}
	if s.clsH >= 0 {
		s.classes[int(p.Value(s.clsH))]++
	}
	if s.retH >= 0 && p.Value(s.retH) == 1 {
		s.first++
	}
}

func (s *Summarise) Process(ctx context.Context, env *Env) error {
	s.reset(env.Buffer.Schema())
	core := env.Core()
	return env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		if core.Contains(p.X(), p.Y()) {
			s.add(p)
		}
		return nil
	})
}

func describe(x []float64, bin float64) *Distribution {
	if len(x) == 0 {
		return nil
	}
	slices.Sort(x)
	mean, sd := stat.MeanStdDev(x, nil)
	if math.IsNaN(sd) {
		sd = 0
	}
	d := &Distribution{
		Min:    x[0],
		Max:    x[len(x)-1],
		Mean:   mean,
		StdDev: sd,
		Q:      make(map[string]float64, len(summaryQuantiles)),
	}
	for _, q := range summaryQuantiles {
		d.Q[strconv.FormatFloat(q, 'f', -1, 64)] = stat.Quantile(q, stat.Empirical, x, nil)
	}
	if bin > 0 {
		d.Histogram = make(map[string]int)
		for _, v := range x {
			lo := math.Floor(v/bin) * bin
			d.Histogram[strconv.FormatFloat(lo, 'f', -1, 64)]++
		}
	}
	return d
}

func (s *Summarise) Finish(ctx context.Context, env *Env) error {
	sum := &Summary{
		Points:       len(s.z),
		FirstReturns: s.first,
		Z:            describe(s.z, s.zhist),
		Intensity:    describe(s.intensity, s.ihist),
	}
	if len(s.classes) > 0 {
		sum.Classification = make(map[string]int, len(s.classes))
		for c, n := range s.classes {
			sum.Classification[strconv.Itoa(c)] = n
		}
	}
	s.summary = sum
	env.Logger.Info("chunk summary", "chunk", env.Chunk.ID, "points", sum.Points)
	if s.output == "" {
		return nil
	}
	data, err := codec.Pretty(s.codec, sum)
	if err != nil {
		return err
	}
	return env.put(ctx, s.output, data)
}
