package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/catalog"
	"github.com/lidarkit/cloudpipe/pipeline"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/reader"
)

// Scheduler runs a pipeline graph over every chunk of a catalog.
type Scheduler struct {
	graph  *pipeline.Graph
	cat    *catalog.Catalog
	src    reader.Source
	store  blobstore.BlobStore
	opts   options
	chunks []catalog.Chunk
}

// New plans the chunks of cat for g. Points are read from src and stage
// outputs are written to store.
//
// The chunk size and explicit queries come from the reader stage. The
// buffer is the larger of the graph margin and the reader's own buffer.
func New(g *pipeline.Graph, cat *catalog.Catalog, src reader.Source, store blobstore.BlobStore, opts ...Option) (*Scheduler, error) {
	r := g.Reader()
	chunks, err := cat.Plan(catalog.PlanOptions{
		ChunkSize: r.ChunkSize(),
		Buffer:    max(g.BufferMargin(), r.Buffer()),
		Queries:   r.Queries(),
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	return &Scheduler{
		graph:  g,
		cat:    cat,
		src:    src,
		store:  store,
		opts:   applyOptions(opts),
		chunks: chunks,
	}, nil
}

// Chunks returns the planned chunks in processing order.
func (s *Scheduler) Chunks() []catalog.Chunk { return s.chunks }

// Graph returns the pipeline being run.
func (s *Scheduler) Graph() *pipeline.Graph { return s.graph }

// Run processes every chunk and returns the job report. The returned error
// joins the *ChunkError of every failed chunk; the report is complete even
// when it is non-nil.
//
// Canceling ctx stops scheduling: chunks not yet started are reported as
// skipped and running chunks finish as interrupted. Cancellation alone is
// not an error.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	rep := &Report{
		RunID:   uuid.NewString(),
		Mode:    s.graph.Mode().String(),
		Started: time.Now(),
		Chunks:  make([]ChunkResult, len(s.chunks)),
	}
	for i, ch := range s.chunks {
		rep.Chunks[i] = ChunkResult{ID: ch.ID, Name: ch.Name, Status: StatusSkipped, chunk: ch}
	}

	logger := s.opts.logger.With("run_id", rep.RunID)
	logger.Info("job started", "chunks", len(s.chunks), "threads", s.opts.threads,
		"mode", rep.Mode, "buffer", s.graph.BufferMargin(), "pipeline", s.graph.String())

	pool := NewWorkerPool(min(s.opts.threads, len(s.chunks)))
	var wg sync.WaitGroup
	for i := range s.chunks {
		s.opts.observer.OnQueueDepth(len(s.chunks) - i)
		ch := &s.chunks[i]
		res := &rep.Chunks[i]
		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			s.runChunk(ctx, ch, res, logger)
		})
		if err != nil {
			wg.Done()
			logger.Warn("scheduling stopped", "pending", len(s.chunks)-i, "error", err)
			break
		}
	}
	wg.Wait()
	pool.Close()
	s.opts.observer.OnQueueDepth(0)

	rep.Duration = time.Since(rep.Started)
	rep.Interrupted = ctx.Err() != nil
	err := rep.Err()
	logger.Info("job finished", "duration", rep.Duration, "points", rep.Points(),
		"failed", len(rep.Failed()), "interrupted", rep.Interrupted)
	return rep, err
}

func (s *Scheduler) runChunk(ctx context.Context, ch *catalog.Chunk, res *ChunkResult, logger *slog.Logger) {
	start := time.Now()
	logger = logger.With("chunk", ch.Name)
	if err := ctx.Err(); err != nil {
		return
	}

	ci := pipeline.ChunkInput{
		ID:            ch.ID,
		Name:          ch.Name,
		Multi:         len(s.chunks) > 1,
		Request:       ch.Request(),
		Buffer:        ch.Buffer,
		Files:         ch.MainFiles,
		Source:        s.src,
		Store:         s.store,
		BufferOptions: s.opts.buffer,
		Resource:      s.opts.resource,
		Logger:        logger,
		Observe: func(st pipeline.Stage, d time.Duration) {
			s.opts.observer.OnStage(st.Name(), d)
		},
	}
	out, err := s.graph.Instantiate().Execute(ctx, ci)
	if err != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		out.Interrupted, err = true, nil
	}

	res.Mode = out.Mode.String()
	res.Points = out.Points
	res.Withheld = out.Withheld
	res.Outputs = out.Outputs
	res.Duration = time.Since(start)
	switch {
	case err != nil:
		points := out.Points
		var ae *pointcloud.AllocationError
		if errors.As(err, &ae) {
			points = ae.Points
		}
		res.Status = StatusFailed
		res.err = &ChunkError{Chunk: *ch, Points: points, Err: err}
		res.Error = res.err.Error()
		logger.Error("chunk failed", "error", err, "points", points)
	case out.Interrupted:
		res.Status = StatusInterrupted
	default:
		res.Status = StatusDone
		logger.Debug("chunk done", "points", out.Points, "withheld", out.Withheld, "duration", res.Duration)
	}
	s.opts.observer.OnChunk(res.Mode, res.Points, res.Duration, res.Err())
}

// Plan returns a textual description of the chunks, one per line.
func (s *Scheduler) Plan() []string {
	lines := make([]string, len(s.chunks))
	for i := range s.chunks {
		lines[i] = s.chunks[i].String()
	}
	return lines
}
