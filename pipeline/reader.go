package pipeline

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/spatial"
)

// floatList accepts a scalar or a sequence.
type floatList []float64

func (l *floatList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var v float64
		if err := n.Decode(&v); err != nil {
			return err
		}
		*l = floatList{v}
		return nil
	}
	var vs []float64
	if err := n.Decode(&vs); err != nil {
		return err
	}
	*l = vs
	return nil
}

type readerParams struct {
	XMin    floatList `yaml:"xmin"`
	YMin    floatList `yaml:"ymin"`
	XMax    floatList `yaml:"xmax"`
	YMax    floatList `yaml:"ymax"`
	XCenter floatList `yaml:"xcenter"`
	YCenter floatList `yaml:"ycenter"`
	Radius  floatList `yaml:"radius"`
	// Chunk is the tile edge length. Zero processes one chunk per file.
	Chunk float64 `yaml:"chunk"`
	// Buffer is a user margin added to the largest stage margin.
	Buffer float64 `yaml:"buffer"`
}

// ReaderStage is the mandatory first stage. It carries the chunking plan
// of the job; the points themselves are loaded by the Instance. Its filter
// is applied while reading, so rejected points never enter the pipeline.
type ReaderStage struct {
	base
	queries []spatial.Shape
	chunk   float64
	buffer  float64
}

func newReaderStage(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	var p readerParams
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if p.Chunk < 0 || p.Buffer < 0 {
		return nil, r.invalid("chunk and buffer must not be negative")
	}
	s := &ReaderStage{base: newBase(KindReader, sc, f), chunk: p.Chunk, buffer: p.Buffer}

	n := len(p.XMin)
	if len(p.YMin) != n || len(p.XMax) != n || len(p.YMax) != n {
		return nil, r.invalid("xmin, ymin, xmax and ymax must have the same length")
	}
	for i := range n {
		if p.XMin[i] > p.XMax[i] || p.YMin[i] > p.YMax[i] {
			return nil, r.invalid("rectangle %d has min greater than max", i)
		}
		s.queries = append(s.queries, spatial.NewRectangle(p.XMin[i], p.YMin[i], p.XMax[i], p.YMax[i]))
	}

	n = len(p.XCenter)
	if len(p.YCenter) != n || len(p.Radius) != n {
		return nil, r.invalid("xcenter, ycenter and radius must have the same length")
	}
	for i := range n {
		if !(p.Radius[i] > 0) {
			return nil, r.invalid("circle %d has a non-positive radius", i)
		}
		s.queries = append(s.queries, spatial.Circle{X: p.XCenter[i], Y: p.YCenter[i], Radius: p.Radius[i]})
	}
	return s, nil
}

// Queries returns the explicit regions to process, if any.
func (s *ReaderStage) Queries() []spatial.Shape { return s.queries }

// ChunkSize returns the requested tile size.
func (s *ReaderStage) ChunkSize() float64 { return s.chunk }

// Buffer returns the user margin.
func (s *ReaderStage) Buffer() float64 { return s.buffer }

func (s *ReaderStage) Streamable() bool { return true }

// NeedsPoints is false: reading alone does not require a pass over the
// records.
func (s *ReaderStage) NeedsPoints() bool { return false }

func (s *ReaderStage) Clone() Stage {
	c := *s
	c.base = s.cloneBase()
	return &c
}

func (s *ReaderStage) Process(context.Context, *Env) error { return nil }

func (s *ReaderStage) ProcessPoint(context.Context, *Env, *pointcloud.Point) error { return nil }
