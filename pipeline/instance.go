package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/query"
	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/resource"
)

// Mode is how a chunk is executed.
type Mode int

const (
	// ModeHeaderOnly runs stages on the chunk header without reading points.
	ModeHeaderOnly Mode = iota
	// ModeStreaming passes points one at a time through every stage.
	ModeStreaming
	// ModeBuffered loads the chunk into a Buffer before running stages.
	ModeBuffered
)

func (m Mode) String() string {
	switch m {
	case ModeHeaderOnly:
		return "header-only"
	case ModeStreaming:
		return "streaming"
	case ModeBuffered:
		return "buffered"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ChunkInput is everything an Instance needs to process one chunk.
type ChunkInput struct {
	ID    int
	Name  string
	Multi bool

	Request reader.Request
	// Buffer is the configured margin of the chunk. When it is zero the
	// header's OriginalExtent is dropped, including chunks whose reader was
	// widened by Epsilon only because neighbour files exist.
	Buffer float64
	// Files are the main files of the chunk. Neighbour files only appear in
	// Request.Files.
	Files  []string
	Source reader.Source
	// Store receives stage outputs.
	Store         blobstore.BlobStore
	BufferOptions []pointcloud.BufferOption
	Resource      *resource.Controller
	Logger        *slog.Logger
	// Observe, when set, is called after every stage with its run time.
	Observe func(s Stage, d time.Duration)
}

// ChunkOutput summarises a processed chunk.
type ChunkOutput struct {
	Mode Mode
	// Points is the number of points that entered the pipeline.
	Points   int
	Withheld int
	// Interrupted reports that ctx was canceled mid-chunk. Outputs written
	// before that point are kept.
	Interrupted bool
	Outputs     []string
}

// Instance runs a Graph on one chunk. Instances are not safe for
// concurrent use; create one per chunk with Graph.Instantiate.
type Instance struct {
	graph  *Graph
	stages []Stage
}

// Stage returns the stage clone at h.
func (in *Instance) Stage(h Handle) Stage { return in.stages[h] }

// Execute reads the chunk and runs every stage on it. Cancellation of ctx is
// not an error: the partial result is returned with Interrupted set.
func (in *Instance) Execute(ctx context.Context, ci ChunkInput) (ChunkOutput, error) {
	logger := ci.Logger
	if logger == nil {
		logger = in.graph.logger
	}
	out := ChunkOutput{Mode: in.graph.Mode()}

	mr, err := reader.Open(ctx, ci.Source, ci.Request)
	if err != nil {
		return out, err
	}
	defer mr.Close()

	h := mr.Header()
	if ci.Buffer == 0 {
		h.OriginalExtent = nil
	}

	env := &Env{
		Chunk:    ChunkInfo{ID: ci.ID, Name: ci.Name, Multi: ci.Multi},
		Header:   h,
		Files:    ci.Files,
		Source:   ci.Source,
		Store:    ci.Store,
		Resource: ci.Resource,
		Logger:   logger,
		stages:   in.stages,
	}
	defer in.release(logger)
	defer func() {
		if env.Buffer != nil {
			_ = env.Buffer.Close()
		}
	}()

	logger.Debug("chunk started", "chunk", ci.ID, "name", ci.Name, "mode", out.Mode.String(),
		"files", len(ci.Request.Files), "announced_points", h.PointCount)

	switch out.Mode {
	case ModeHeaderOnly:
		err = in.runHeaders(ctx, env, ci.Observe)
	case ModeStreaming:
		err = in.stream(ctx, env, mr, &out, ci.Observe)
	default:
		err = in.buffered(ctx, env, mr, &out, ci)
	}
	if err == nil && !out.Interrupted {
		err = in.finish(ctx, env, ci.Observe)
	}
	if err != nil && ctx.Err() != nil && isContextErr(err) {
		out.Interrupted = true
		err = nil
	}
	out.Outputs = env.outputs
	if err != nil {
		return out, err
	}
	if out.Interrupted {
		logger.Info("chunk interrupted", "chunk", ci.ID, "points", out.Points)
	}
	return out, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func stageError(i int, s Stage, err error) error {
	return fmt.Errorf("stage %d (%s %q): %w", i, s.Name(), s.UID(), err)
}

func timed(s Stage, observe func(Stage, time.Duration), fn func() error) error {
	start := time.Now()
	err := fn()
	if observe != nil {
		observe(s, time.Since(start))
	}
	return err
}

func (in *Instance) runHeaders(ctx context.Context, env *Env, observe func(Stage, time.Duration)) error {
	for i, s := range in.stages {
		hs, ok := s.(HeaderStage)
		if !ok {
			continue
		}
		if err := timed(s, observe, func() error { return hs.ProcessHeader(ctx, env) }); err != nil {
			return stageError(i, s, err)
		}
	}
	return nil
}

func (in *Instance) bind(schema *pointcloud.Schema) error {
	for i, s := range in.stages {
		if b, ok := s.(binder); ok {
			if err := b.bind(schema); err != nil {
				return stageError(i, s, err)
			}
		}
	}
	return nil
}

// stream passes every record through the point stages. A point withheld by
// a stage is not seen by the following ones.
func (in *Instance) stream(ctx context.Context, env *Env, mr *reader.MultiReader, out *ChunkOutput, observe func(Stage, time.Duration)) error {
	if err := in.runHeaders(ctx, env, observe); err != nil {
		return err
	}
	if err := in.bind(env.Header.Schema); err != nil {
		return err
	}

	rd := in.stages[0].(binder)
	ps := make([]PointStage, len(in.stages))
	for i, s := range in.stages[1:] {
		p, ok := s.(PointStage)
		if !ok {
			return stageError(i+1, s, fmt.Errorf("stage cannot stream"))
		}
		ps[i+1] = p
	}

	p := pointcloud.NewPoint(env.Header.Schema)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := mr.ReadPoint(p)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !rd.accepts(p) {
			continue
		}
		out.Points++
		for i := 1; i < len(ps); i++ {
			s := ps[i]
			if !s.(binder).accepts(p) {
				continue
			}
			if err := s.ProcessPoint(ctx, env, p); err != nil {
				return stageError(i, s, err)
			}
			if p.Withheld() {
				out.Withheld++
				break
			}
		}
	}
}

// buffered fills a Buffer with the chunk and runs each stage on it.
func (in *Instance) buffered(ctx context.Context, env *Env, mr *reader.MultiReader, out *ChunkOutput, ci ChunkInput) error {
	opts := append([]pointcloud.BufferOption{
		pointcloud.WithResourceController(ci.Resource),
		pointcloud.WithLogger(env.Logger),
	}, ci.BufferOptions...)
	buf, err := pointcloud.NewBuffer(env.Header, opts...)
	if err != nil {
		return err
	}
	env.Buffer = buf
	env.Query = query.NewEngine(buf)

	if err := in.bind(env.Header.Schema); err != nil {
		return err
	}

	rd := in.stages[0].(binder)
	p := pointcloud.NewPoint(env.Header.Schema)
	for {
		if err := ctx.Err(); err != nil {
			out.Points = buf.Len()
			return err
		}
		err := mr.ReadPoint(p)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !rd.accepts(p) {
			continue
		}
		if _, err := buf.Append(p); err != nil {
			out.Points = buf.Len()
			return err
		}
	}
	out.Points = buf.Len()
	env.Logger.Debug("chunk loaded", "chunk", env.Chunk.ID, "points", buf.Len(),
		"cell_size", buf.Index().CellSize(), "cells", buf.Index().Cells())

	defer func() { out.Withheld = buf.CountWithheld() }()
	for i, s := range in.stages {
		if err := timed(s, ci.Observe, func() error { return s.Process(ctx, env) }); err != nil {
			return stageError(i, s, err)
		}
	}
	return nil
}

func (in *Instance) finish(ctx context.Context, env *Env, observe func(Stage, time.Duration)) error {
	for i, s := range in.stages {
		f, ok := s.(Finisher)
		if !ok {
			continue
		}
		if err := timed(s, observe, func() error { return f.Finish(ctx, env) }); err != nil {
			return stageError(i, s, err)
		}
	}
	return nil
}

func (in *Instance) release(logger *slog.Logger) {
	for _, s := range in.stages {
		if r, ok := s.(releaser); ok {
			if err := r.release(); err != nil {
				logger.Warn("stage release failed", "stage", s.UID(), "error", err)
			}
		}
	}
}
