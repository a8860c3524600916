package reader

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/resource"
	"github.com/lidarkit/cloudpipe/spatial"
)

// StoreSource opens point files held in a blob store.
type StoreSource struct {
	store blobstore.BlobStore
	opts  options
}

// NewStoreSource creates a Source over store.
func NewStoreSource(store blobstore.BlobStore, opts ...Option) *StoreSource {
	return &StoreSource{store: store, opts: applyOptions(opts)}
}

// Store returns the underlying blob store.
func (s *StoreSource) Store() blobstore.BlobStore { return s.store }

// Supported reports whether name has a readable extension.
func Supported(name string) bool {
	_, base := SplitCompression(name)
	return strings.EqualFold(path.Ext(base), ".pcd")
}

// Open opens name and parses its header.
func (s *StoreSource) Open(ctx context.Context, name string) (FormatReader, error) {
	comp, base := SplitCompression(name)
	if !strings.EqualFold(path.Ext(base), ".pcd") {
		return nil, formatError(name, "open", 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path.Ext(base)))
	}

	blob, err := s.store.Open(ctx, name)
	if err != nil {
		return nil, formatError(name, "open", 0, err)
	}

	open := func() (io.ReadCloser, error) {
		raw, err := blobstore.NewReader(ctx, blob)
		if err != nil {
			return nil, err
		}
		limited := resource.NewRateLimitedReader(ctx, raw, s.opts.rc)
		return decompress(readCloser{Reader: limited, Closer: raw}, comp)
	}

	r, err := newPCDReader(name, open, s.opts)
	if err != nil {
		_ = blob.Close()
		return nil, err
	}
	r.closer = blob.Close
	return r, nil
}

// MemorySource serves clouds held in memory. It is safe for concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	clouds map[string]*memoryCloud
}

type memoryCloud struct {
	header  *pointcloud.Header
	records [][]byte
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{clouds: make(map[string]*memoryCloud)}
}

// Add registers points under name. All points must share schema.
func (m *MemorySource) Add(name string, schema *pointcloud.Schema, points []*pointcloud.Point) {
	h := &pointcloud.Header{
		Extent:     spatial.EmptyBBox(),
		PointCount: uint64(len(points)),
		Schema:     schema,
		Source:     name,
	}
	c := &memoryCloud{header: h, records: make([][]byte, len(points))}
	for i, p := range points {
		if i == 0 {
			h.MinZ, h.MaxZ = p.Z(), p.Z()
		}
		h.Extent = h.Extent.Add(p.X(), p.Y())
		h.MinZ = min(h.MinZ, p.Z())
		h.MaxZ = max(h.MaxZ, p.Z())
		c.records[i] = append([]byte(nil), p.Bytes()...)
	}

	m.mu.Lock()
	m.clouds[name] = c
	m.mu.Unlock()
}

// Names returns the registered names in order.
func (m *MemorySource) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clouds))
	for n := range m.clouds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open returns a reader over the cloud registered as name.
func (m *MemorySource) Open(_ context.Context, name string) (FormatReader, error) {
	m.mu.RLock()
	c, ok := m.clouds[name]
	m.mu.RUnlock()
	if !ok {
		return nil, formatError(name, "open", 0, blobstore.ErrNotFound)
	}
	return &memoryReader{cloud: c, header: c.header.Clone()}, nil
}

type memoryReader struct {
	cloud  *memoryCloud
	header *pointcloud.Header
	next   int
}

func (r *memoryReader) Header() *pointcloud.Header { return r.header }

func (r *memoryReader) ReadPoint(p *pointcloud.Point) error {
	if r.next >= len(r.cloud.records) {
		return io.EOF
	}
	copy(p.Bytes(), r.cloud.records[r.next])
	r.next++
	return nil
}

func (r *memoryReader) Close() error { return nil }
