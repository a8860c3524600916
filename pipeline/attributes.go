package pipeline

import (
	"context"

	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/pointcloud"
)

type addExtrabytesParams struct {
	Name        string  `yaml:"name"`
	DataType    string  `yaml:"data_type"`
	Description string  `yaml:"description"`
	Scale       float64 `yaml:"scale"`
	Offset      float64 `yaml:"offset"`
	Default     float64 `yaml:"default"`
}

// AddExtrabytes adds an attribute to the point schema.
type AddExtrabytes struct {
	base
	attr pointcloud.Attribute
}

func newAddExtrabytes(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := addExtrabytesParams{DataType: "float", Scale: 1}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if p.Name == "" {
		return nil, r.invalid("name is required")
	}
	t, err := pointcloud.ParseAttributeType(p.DataType)
	if err != nil {
		return nil, r.invalid("%v", err)
	}
	a := pointcloud.Attribute{
		Name:        p.Name,
		Type:        t,
		Scale:       p.Scale,
		Offset:      p.Offset,
		Description: p.Description,
		Default:     p.Default,
	}
	// Validate the definition against an empty layout.
	if err := pointcloud.NewSchema([3]float64{}, [3]float64{}).AddAttribute(a); err != nil {
		return nil, r.invalid("%v", err)
	}
	return &AddExtrabytes{base: newBase(KindAddExtrabytes, sc, f), attr: a}, nil
}

func (s *AddExtrabytes) Streamable() bool { return true }

func (s *AddExtrabytes) Clone() Stage {
	return &AddExtrabytes{base: s.cloneBase(), attr: s.attr}
}

// ProcessHeader extends the header schema, so streamed points are read
// into the wider layout.
func (s *AddExtrabytes) ProcessHeader(_ context.Context, env *Env) error {
	if env.Header.Schema.Has(s.attr.Name) {
		return nil
	}
	next := env.Header.Schema.Clone()
	if err := next.AddAttribute(s.attr); err != nil {
		return err
	}
	env.Header.Schema = next
	return nil
}

func (s *AddExtrabytes) ProcessPoint(context.Context, *Env, *pointcloud.Point) error { return nil }

func (s *AddExtrabytes) Process(_ context.Context, env *Env) error {
	if env.Buffer.Schema().Has(s.attr.Name) {
		return nil
	}
	return env.Buffer.AddAttribute(s.attr)
}

type addRGBParams struct {
	NIR bool `yaml:"nir"`
}

// AddRGB adds R, G and B (and optionally NIR) channels.
type AddRGB struct {
	base
	nir bool
}

func newAddRGB(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	var p addRGBParams
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	return &AddRGB{base: newBase(KindAddRGB, sc, f), nir: p.NIR}, nil
}

func (s *AddRGB) Streamable() bool { return true }

func (s *AddRGB) Clone() Stage {
	return &AddRGB{base: s.cloneBase(), nir: s.nir}
}

func (s *AddRGB) ProcessHeader(_ context.Context, env *Env) error {
	names := []string{pointcloud.AttrR, pointcloud.AttrG, pointcloud.AttrB}
	if s.nir {
		names = append(names, pointcloud.AttrNIR)
	}
	next := env.Header.Schema.Clone()
	for _, name := range names {
		if next.Has(name) {
			continue
		}
		if err := next.AddAttribute(pointcloud.Attribute{Name: name, Type: pointcloud.TypeUint16}); err != nil {
			return err
		}
	}
	env.Header.Schema = next
	return nil
}

func (s *AddRGB) ProcessPoint(context.Context, *Env, *pointcloud.Point) error { return nil }

func (s *AddRGB) Process(_ context.Context, env *Env) error {
	return env.Buffer.AddColorChannels(s.nir)
}
