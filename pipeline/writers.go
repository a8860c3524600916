package pipeline

import (
	"context"
	"errors"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/filter"
	"github.com/lidarkit/cloudpipe/indexfile"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/reader"
)

type writePCDParams struct {
	Layout     string `yaml:"layout"`
	KeepBuffer bool   `yaml:"keep_buffer"`
}

// WritePCD writes the points reaching it to a PCD file. Points of the
// buffer margin are skipped unless keep_buffer is set. No file is created
// for a chunk without points.
type WritePCD struct {
	base
	layout     reader.DataLayout
	keepBuffer bool

	w    *reader.PCDWriter
	name string
}

func newWritePCD(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	p := writePCDParams{Layout: "binary"}
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	if sc.Output == "" {
		return nil, r.invalid("output is required")
	}
	layout, err := reader.ParseDataLayout(p.Layout)
	if err != nil {
		return nil, r.invalid("%v", err)
	}
	return &WritePCD{base: newBase(KindWritePCD, sc, f), layout: layout, keepBuffer: p.KeepBuffer}, nil
}

func (s *WritePCD) Streamable() bool { return true }

func (s *WritePCD) Clone() Stage {
	return &WritePCD{base: s.cloneBase(), layout: s.layout, keepBuffer: s.keepBuffer}
}

func (s *WritePCD) write(ctx context.Context, env *Env, p *pointcloud.Point) error {
	if !s.keepBuffer && !env.Header.InCore(p.X(), p.Y()) {
		return nil
	}
	if s.w == nil {
		s.name = env.OutputName(s.output)
		w, err := reader.CreatePCD(ctx, env.Store, s.name, p.Schema(), s.layout, env.Resource)
		if err != nil {
			return err
		}
		s.w = w
	}
	return s.w.Write(p)
}

func (s *WritePCD) ProcessPoint(ctx context.Context, env *Env, p *pointcloud.Point) error {
	return s.write(ctx, env, p)
}

func (s *WritePCD) Process(ctx context.Context, env *Env) error {
	return env.eachPoint(ctx, s.match, func(_ uint32, p *pointcloud.Point) error {
		return s.write(ctx, env, p)
	})
}

func (s *WritePCD) Finish(_ context.Context, env *Env) error {
	if s.w == nil {
		return nil
	}
	w := s.w
	s.w = nil
	if err := w.Close(); err != nil {
		return err
	}
	env.emit(s.name)
	return nil
}

// release closes a writer left open by an interrupted chunk. The file then
// holds the points written so far.
func (s *WritePCD) release() error {
	if s.w == nil {
		return nil
	}
	w := s.w
	s.w = nil
	return w.Close()
}

type writeIndexParams struct {
	Overwrite bool `yaml:"overwrite"`
}

// WriteIndex writes a spatial index file next to each main file of the
// chunk. It reads the files itself, so the pipeline does not need to load
// points for it.
type WriteIndex struct {
	base
	overwrite bool
}

func newWriteIndex(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error) {
	var p writeIndexParams
	if err := sc.decodeParams(&p); err != nil {
		return nil, r.invalid("%v", err)
	}
	return &WriteIndex{base: newBase(KindWriteIndex, sc, f), overwrite: p.Overwrite}, nil
}

func (s *WriteIndex) Streamable() bool { return true }

func (s *WriteIndex) NeedsPoints() bool { return false }

func (s *WriteIndex) Clone() Stage {
	return &WriteIndex{base: s.cloneBase(), overwrite: s.overwrite}
}

func (s *WriteIndex) Process(context.Context, *Env) error { return nil }

func (s *WriteIndex) ProcessPoint(context.Context, *Env, *pointcloud.Point) error { return nil }

func (s *WriteIndex) Finish(ctx context.Context, env *Env) error {
	for _, name := range env.Files {
		if !s.overwrite {
			b, err := env.Store.Open(ctx, name+indexfile.Extension)
			if err == nil {
				_ = b.Close()
				env.Logger.Debug("index exists", "file", name)
				continue
			}
			if !errors.Is(err, blobstore.ErrNotFound) {
				return err
			}
		}
		w, err := indexfile.WriteFile(ctx, env.Source, env.Store, name)
		if err != nil {
			return err
		}
		env.emit(name + indexfile.Extension)
		env.Logger.Info("index written", "file", name, "points", w.Points(), "cells", w.Cells())
	}
	return nil
}
