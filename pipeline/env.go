package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/query"
	"github.com/lidarkit/cloudpipe/raster"
	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/resource"
	"github.com/lidarkit/cloudpipe/spatial"
)

// ChunkInfo identifies the chunk being processed.
type ChunkInfo struct {
	ID   int
	Name string
	// Multi is set when the job has more than one chunk, so outputs without
	// a '*' placeholder are suffixed with the chunk name.
	Multi bool
}

// Env is the per-chunk execution environment handed to stages.
type Env struct {
	Chunk  ChunkInfo
	Header *pointcloud.Header
	// Buffer and Query are nil in streaming and header-only execution.
	Buffer *pointcloud.Buffer
	Query  *query.Engine
	// Files are the main files of the chunk.
	Files    []string
	Source   reader.Source
	Store    blobstore.BlobStore
	Resource *resource.Controller
	Logger   *slog.Logger

	stages  []Stage
	outputs []string
}

// Stage returns the stage at h in the running instance.
func (e *Env) Stage(h Handle) Stage {
	if int(h) < 0 || int(h) >= len(e.stages) {
		return nil
	}
	return e.stages[h]
}

// Core returns the unbuffered chunk region.
func (e *Env) Core() spatial.BBox {
	if e.Header.OriginalExtent != nil {
		return *e.Header.OriginalExtent
	}
	return e.Header.Extent
}

// Outputs returns the names written so far.
func (e *Env) Outputs() []string { return e.outputs }

// OutputName expands a stage output template for the current chunk. A '*'
// is replaced by the chunk name; otherwise multi-chunk jobs get the chunk
// name appended before the extension.
func (e *Env) OutputName(tmpl string) string {
	name := e.Chunk.Name
	if name == "" {
		name = fmt.Sprintf("chunk_%d", e.Chunk.ID)
	}
	if strings.Contains(tmpl, "*") {
		return strings.ReplaceAll(tmpl, "*", name)
	}
	if !e.Chunk.Multi {
		return tmpl
	}
	ext := path.Ext(tmpl)
	if ext == ".zst" || ext == ".lz4" {
		inner := path.Ext(strings.TrimSuffix(tmpl, ext))
		ext = inner + ext
	}
	return strings.TrimSuffix(tmpl, ext) + "_" + name + ext
}

// emit records a written output.
func (e *Env) emit(name string) {
	e.outputs = append(e.outputs, name)
	e.Logger.Debug("stage output written", "chunk", e.Chunk.ID, "output", name)
}

// writeRaster stores r as an ESRI ASCII grid.
func (e *Env) writeRaster(ctx context.Context, tmpl string, r *raster.Raster) error {
	if tmpl == "" || r == nil {
		return nil
	}
	name := e.OutputName(tmpl)
	w, err := e.Store.Create(ctx, name)
	if err != nil {
		return err
	}
	if err := r.WriteASCII(resource.NewRateLimitedWriter(ctx, w, e.Resource)); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	e.emit(name)
	return nil
}

// put stores data under the expanded output name.
func (e *Env) put(ctx context.Context, tmpl string, data []byte) error {
	name := e.OutputName(tmpl)
	if err := e.Store.Put(ctx, name, data); err != nil {
		return err
	}
	e.emit(name)
	return nil
}

// eachPoint visits the buffered points accepted by match in id order. The
// buffer cursor is on the visited point, so Buffer.MarkWithheld and
// Buffer.UpdateCurrent apply to it. It returns ctx.Err() when interrupted.
func (e *Env) eachPoint(ctx context.Context, match query.Filter, fn func(id uint32, p *pointcloud.Point) error) error {
	s := e.Query.NewSession(query.WithFilter(match))
	for {
		id, p, ok := s.Next(ctx)
		if !ok {
			if s.State() != query.Exhausted {
				return ctx.Err()
			}
			return nil
		}
		if err := fn(id, p); err != nil {
			return err
		}
	}
}

// rasterExtent returns the core region, or the buffer bounds when the
// header carries no usable extent.
func (e *Env) rasterExtent() spatial.BBox {
	core := e.Core()
	if core.Area() > 0 {
		return core
	}
	if e.Buffer != nil {
		return e.Buffer.Bounds()
	}
	return core
}
