package testutil

import (
	"math"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/spatial"
	"github.com/stretchr/testify/require"
)

// XYZ is a synthetic point with a classification and intensity.
type XYZ struct {
	X, Y, Z        float64
	Classification uint8
	Intensity      uint16
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// UniformCloud generates n points uniformly distributed over extent with z in
// [minZ, maxZ). Coordinates are rounded to millimetres so they survive the
// default 0.001 scale unchanged.
func (r *RNG) UniformCloud(n int, extent spatial.BBox, minZ, maxZ float64) []XYZ {
	r.mu.Lock()
	defer r.mu.Unlock()

	pts := make([]XYZ, n)
	for i := range pts {
		pts[i] = XYZ{
			X:              mm(extent.MinX + r.rand.Float64()*extent.Width()),
			Y:              mm(extent.MinY + r.rand.Float64()*extent.Height()),
			Z:              mm(minZ + r.rand.Float64()*(maxZ-minZ)),
			Classification: uint8(r.rand.Intn(7)),
			Intensity:      uint16(r.rand.Intn(4096)),
		}
	}
	return pts
}

// Terrain generates an n×n lattice with spacing step whose z follows a gentle
// slope plus a few bumps. Ground points are classified 2.
func (r *RNG) Terrain(n int, step float64) []XYZ {
	r.mu.Lock()
	defer r.mu.Unlock()

	pts := make([]XYZ, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := float64(i)*step, float64(j)*step
			z := 0.05*x + 0.02*y + 2*math.Sin(x/7)*math.Cos(y/9) + r.rand.Float64()*0.01
			pts = append(pts, XYZ{X: mm(x), Y: mm(y), Z: mm(z), Classification: 2})
		}
	}
	return pts
}

func mm(v float64) float64 { return math.Round(v*1000) / 1000 }

// Extent returns the planimetric bounding box of pts.
func Extent(pts []XYZ) spatial.BBox {
	b := spatial.EmptyBBox()
	for _, p := range pts {
		b = b.Add(p.X, p.Y)
	}
	return b
}

// Schema returns the standard schema used by FillBuffer.
func Schema() *pointcloud.Schema {
	return pointcloud.StandardSchema([3]float64{0.001, 0.001, 0.001}, [3]float64{})
}

// Header returns a header describing pts.
func Header(pts []XYZ) *pointcloud.Header {
	h := &pointcloud.Header{
		Extent:     Extent(pts),
		PointCount: uint64(len(pts)),
		Schema:     Schema(),
		MinZ:       math.Inf(1),
		MaxZ:       math.Inf(-1),
	}
	for _, p := range pts {
		h.MinZ = min(h.MinZ, p.Z)
		h.MaxZ = max(h.MaxZ, p.Z)
	}
	return h
}

// SetPoint writes s into p.
func SetPoint(p *pointcloud.Point, s XYZ) {
	p.SetXYZ(s.X, s.Y, s.Z)
	_ = p.Set(pointcloud.AttrClassification, float64(s.Classification))
	_ = p.Set(pointcloud.AttrIntensity, float64(s.Intensity))
}

// FillBuffer appends pts to a new buffer in order, so point i has id i.
func FillBuffer(tb testing.TB, pts []XYZ, opts ...pointcloud.BufferOption) *pointcloud.Buffer {
	tb.Helper()
	h := Header(pts)
	if len(pts) == 0 {
		h.Extent = spatial.BBox{}
	}
	buf, err := pointcloud.NewBuffer(h, opts...)
	require.NoError(tb, err)

	p := buf.NewPoint()
	for i, s := range pts {
		SetPoint(p, s)
		id, err := buf.Append(p)
		require.NoError(tb, err)
		require.Equal(tb, uint32(i), id)
	}
	return buf
}

// BruteForceRange returns the ids of pts contained in shape, ascending.
func BruteForceRange(pts []XYZ, shape spatial.Shape) []uint32 {
	var ids []uint32
	for i, p := range pts {
		if shape.Contains(p.X, p.Y, p.Z) {
			ids = append(ids, uint32(i))
		}
	}
	return ids
}

// Neighbor is a ground-truth neighbour.
type Neighbor struct {
	ID       uint32
	Distance float64
}

// BruteForceKNN returns the k points of pts nearest to (x, y, z) within
// maxRadius, sorted by distance.
func BruteForceKNN(pts []XYZ, x, y, z float64, k int, maxRadius float64) []Neighbor {
	var out []Neighbor
	for i, p := range pts {
		d := math.Sqrt((p.X-x)*(p.X-x) + (p.Y-y)*(p.Y-y) + (p.Z-z)*(p.Z-z))
		if d <= maxRadius {
			out = append(out, Neighbor{ID: uint32(i), Distance: d})
		}
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// ComputeRecall returns the fraction of groundTruth ids present in got.
func ComputeRecall(groundTruth []Neighbor, got []uint32) float64 {
	if len(groundTruth) == 0 {
		if len(got) == 0 {
			return 1
		}
		return 0
	}
	seen := make(map[uint32]struct{}, len(got))
	for _, id := range got {
		seen[id] = struct{}{}
	}
	hits := 0
	for _, n := range groundTruth {
		if _, ok := seen[n.ID]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(groundTruth))
}

// Points returns pts as standalone records of schema.
func Points(schema *pointcloud.Schema, pts []XYZ) []*pointcloud.Point {
	out := make([]*pointcloud.Point, len(pts))
	for i, s := range pts {
		p := pointcloud.NewPoint(schema)
		SetPoint(p, s)
		out[i] = p
	}
	return out
}
