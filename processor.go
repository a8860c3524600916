package cloudpipe

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/catalog"
	"github.com/lidarkit/cloudpipe/codec"
	"github.com/lidarkit/cloudpipe/engine"
	"github.com/lidarkit/cloudpipe/pipeline"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/resource"
)

// Processor runs one validated pipeline over point files of a store.
// It is safe for concurrent use; every Run plans its own chunks.
type Processor struct {
	graph *pipeline.Graph
	in    blobstore.BlobStore
	out   blobstore.BlobStore
	src   *reader.StoreSource
	rc    *resource.Controller
	opts  options
}

// New builds cfg and returns a processor reading from in and writing stage
// outputs to out. A rejected pipeline returns an error wrapping ErrConfig
// and a *pipeline.ConfigError.
func New(cfg pipeline.Config, in, out blobstore.BlobStore, opts ...Option) (*Processor, error) {
	o := applyOptions(opts)
	if out == nil {
		out = in
	}

	bopts := []pipeline.BuildOption{pipeline.WithLogger(o.logger.Logger)}
	if o.surface != nil {
		bopts = append(bopts, pipeline.WithSurfaceBuilder(o.surface))
	}
	g, err := pipeline.Build(cfg, bopts...)
	if err != nil {
		o.logger.LogBuild(context.Background(), len(cfg.Stages), "", 0, err)
		return nil, translateError(err)
	}
	o.logger.LogBuild(context.Background(), g.Len(), g.Mode().String(), g.BufferMargin(), nil)

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   o.memoryLimit,
		IOLimitBytesPerSec: o.ioLimit,
	})
	src := reader.NewStoreSource(in,
		reader.WithScale(o.scale),
		reader.WithResourceController(rc),
		reader.WithLogger(o.logger.Logger),
	)
	return &Processor{graph: g, in: in, out: out, src: src, rc: rc, opts: o}, nil
}

// Graph returns the built pipeline.
func (p *Processor) Graph() *pipeline.Graph { return p.graph }

// ResolveInputs expands the entries ending with '/' to the point files
// below them. Other entries are kept as file names. Duplicates are
// dropped.
func ResolveInputs(ctx context.Context, store blobstore.BlobStore, inputs []string) ([]string, error) {
	var names []string
	for _, in := range inputs {
		if !strings.HasSuffix(in, "/") {
			names = append(names, in)
			continue
		}
		listed, err := catalog.ListFiles(ctx, store, in)
		if err != nil {
			return nil, err
		}
		names = append(names, listed...)
	}
	out := names[:0]
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoInput, inputs)
	}
	return out, nil
}

// Catalog scans the headers of inputs.
func (p *Processor) Catalog(ctx context.Context, inputs []string) (*catalog.Catalog, error) {
	names, err := ResolveInputs(ctx, p.in, inputs)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Scan(ctx, p.src, names,
		catalog.WithConcurrency(p.opts.threads),
		catalog.WithLogger(p.opts.logger.Logger),
	)
	return cat, translateError(err)
}

// Run processes inputs and returns the job report. Chunk failures do not
// stop the job: the report is returned together with an error joining
// them. Canceling ctx interrupts the job without an error.
func (p *Processor) Run(ctx context.Context, inputs []string) (*engine.Report, error) {
	cat, err := p.Catalog(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, p.graph, cat, p.out)
}

func (p *Processor) run(ctx context.Context, g *pipeline.Graph, cat *catalog.Catalog, out blobstore.BlobStore) (*engine.Report, error) {
	sched, err := engine.New(g, cat, p.src, out, p.engineOptions()...)
	if err != nil {
		return nil, translateError(err)
	}
	rep, err := sched.Run(ctx)
	p.opts.logger.WithRunID(rep.RunID).LogJob(ctx, len(rep.Chunks), len(rep.Failed()), rep.Interrupted, rep.Duration)
	return rep, translateError(err)
}

func (p *Processor) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithThreads(p.opts.threads),
		engine.WithLogger(p.opts.logger.Logger),
		engine.WithMetricsObserver(observer{mc: p.opts.metricsCollector}),
		engine.WithResourceController(p.rc),
	}
	if p.opts.maxPoints > 0 {
		opts = append(opts, engine.WithBufferOptions(pointcloud.WithMaxPoints(p.opts.maxPoints)))
	}
	return opts
}

// Index writes a spatial index next to every input file. Existing indexes
// are kept unless overwrite is set.
func (p *Processor) Index(ctx context.Context, inputs []string, overwrite bool) (*engine.Report, error) {
	g, err := pipeline.Build(pipeline.Config{Stages: []pipeline.StageConfig{
		pipeline.NewStageConfig("reader", "", nil),
		pipeline.NewStageConfig("write_index", "", map[string]any{"overwrite": overwrite}),
	}}, pipeline.WithLogger(p.opts.logger.Logger))
	if err != nil {
		return nil, translateError(err)
	}
	cat, err := p.Catalog(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, g, cat, p.in)
}

// WriteReport encodes rep with the configured codec and stores it as name
// in the output store.
func (p *Processor) WriteReport(ctx context.Context, rep *engine.Report, name string) error {
	data, err := codec.Pretty(p.opts.codec, rep)
	if err != nil {
		return err
	}
	return p.out.Put(ctx, name, data)
}

// MemoryUsage returns the current and peak bytes held by point buffers.
func (p *Processor) MemoryUsage() (current, peak int64) {
	return p.rc.MemoryUsage(), p.rc.PeakMemoryUsage()
}

// Stages lists the kinds accepted in a pipeline.
func Stages() []string { return slices.Clone(pipeline.Kinds()) }
