package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/reader"
	"github.com/lidarkit/cloudpipe/spatial"
)

// ErrEmpty is returned when a catalog holds no files.
var ErrEmpty = errors.New("catalog: no files")

// FileInfo is the header summary of one file.
type FileInfo struct {
	Name   string       `json:"name"`
	Extent spatial.BBox `json:"extent"`
	MinZ   float64      `json:"min_z"`
	MaxZ   float64      `json:"max_z"`
	Points uint64       `json:"points"`
}

// Catalog is an immutable set of files.
type Catalog struct {
	files  []FileInfo
	extent spatial.BBox
}

// New creates a catalog from files in the given order.
func New(files ...FileInfo) *Catalog {
	c := &Catalog{files: slices.Clone(files), extent: spatial.EmptyBBox()}
	for _, f := range files {
		c.extent = c.extent.Union(f.Extent)
	}
	return c
}

type scanOptions struct {
	concurrency int
	logger      *slog.Logger
}

// ScanOption configures Scan.
type ScanOption func(*scanOptions)

// WithConcurrency limits the number of headers read in parallel.
func WithConcurrency(n int) ScanOption {
	return func(o *scanOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ScanOption {
	return func(o *scanOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Scan reads the header of every named file from src. Headers are read in
// parallel; the catalog keeps the order of names.
func Scan(ctx context.Context, src reader.Source, names []string, opts ...ScanOption) (*Catalog, error) {
	o := scanOptions{concurrency: runtime.GOMAXPROCS(0), logger: slog.New(slog.DiscardHandler)}
	for _, fn := range opts {
		fn(&o)
	}
	if len(names) == 0 {
		return nil, ErrEmpty
	}

	files := make([]FileInfo, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, name := range names {
		g.Go(func() error {
			h, err := reader.Probe(gctx, src, name)
			if err != nil {
				return err
			}
			files[i] = FileInfo{Name: name, Extent: h.Extent, MinZ: h.MinZ, MaxZ: h.MaxZ, Points: h.PointCount}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := New(files...)
	o.logger.Debug("catalog scanned", "files", len(files), "points", c.Points(), "extent", c.extent)
	return c, nil
}

// ListFiles returns the readable point files below prefix in store.
func ListFiles(ctx context.Context, store blobstore.BlobStore, prefix string) ([]string, error) {
	names, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("catalog: list %q: %w", prefix, err)
	}
	out := names[:0]
	for _, n := range names {
		if reader.Supported(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Files returns the files in catalog order.
func (c *Catalog) Files() []FileInfo { return c.files }

// Len returns the number of files.
func (c *Catalog) Len() int { return len(c.files) }

// Extent returns the union of the file extents.
func (c *Catalog) Extent() spatial.BBox { return c.extent }

// Points returns the total announced point count.
func (c *Catalog) Points() uint64 {
	var n uint64
	for _, f := range c.files {
		n += f.Points
	}
	return n
}

// Intersecting returns the names of the files whose extent intersects b.
func (c *Catalog) Intersecting(b spatial.BBox) []string {
	var names []string
	for _, f := range c.files {
		if f.Extent.Intersects(b) {
			names = append(names, f.Name)
		}
	}
	return names
}

// BaseName strips directories and point file extensions from name.
func BaseName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, ext := range []string{".zst", ".lz4", ".pcd"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
