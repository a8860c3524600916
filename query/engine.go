package query

import (
	"context"
	"errors"
	"math"
	"slices"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/spatial"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("query: k must be positive")
	// ErrInvalidRadius is returned when the maximum search radius is not positive.
	ErrInvalidRadius = errors.New("query: max radius must be positive")
	// ErrSessionActive is returned when a shape is bound to a session that has
	// already started scanning.
	ErrSessionActive = errors.New("query: session already started, reset first")
)

const (
	knnRadiusGrowth = 1.5
	knnRadiusFactor = 1.5
)

// Match is one point returned by a query.
type Match struct {
	ID    uint32
	Point *pointcloud.Point
}

// Result holds the matches of a query. Interrupted reports that the context
// was canceled before the scan completed; Matches then holds the points found
// so far.
type Result struct {
	Matches     []Match
	Interrupted bool
}

// Len returns the number of matches.
func (r Result) Len() int { return len(r.Matches) }

// IDs returns the ids of the matches in result order.
func (r Result) IDs() []uint32 {
	ids := make([]uint32, len(r.Matches))
	for i, m := range r.Matches {
		ids[i] = m.ID
	}
	return ids
}

// Engine serves queries against one buffer.
type Engine struct {
	buf *pointcloud.Buffer
}

// NewEngine creates an engine over buf.
func NewEngine(buf *pointcloud.Buffer) *Engine {
	return &Engine{buf: buf}
}

// Buffer returns the underlying buffer.
func (e *Engine) Buffer() *pointcloud.Buffer { return e.buf }

func interrupted(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// scan visits every candidate id in ivs that passes the withheld flag, the
// exact shape test (when shape is non-nil) and the filter. visit receives a
// scratch point that is only valid for the duration of the call. scan
// returns false when interrupted.
func (e *Engine) scan(ctx context.Context, ivs []spatial.Interval, shape spatial.Shape, o *options, visit func(id uint32, p *pointcloud.Point)) bool {
	scratch := pointcloud.NewPoint(e.buf.Schema())
	for _, iv := range ivs {
		for id := uint64(iv.Start); id <= uint64(iv.End); id++ {
			if interrupted(ctx) {
				return false
			}
			if !e.buf.Read(uint32(id), scratch) {
				break
			}
			if !accept(scratch, shape, o) {
				continue
			}
			visit(uint32(id), scratch)
		}
	}
	return true
}

func accept(p *pointcloud.Point, shape spatial.Shape, o *options) bool {
	if p.Withheld() && !o.includeWithheld {
		return false
	}
	if shape != nil && !shape.Contains(p.X(), p.Y(), p.Z()) {
		return false
	}
	if o.filter != nil && !o.filter(p) {
		return false
	}
	return true
}

func emit(id uint32, p *pointcloud.Point, o *options) Match {
	c := p.Clone()
	if o.transform != nil {
		o.transform(c)
	}
	return Match{ID: id, Point: c}
}

// Query returns every point inside shape in ascending id order.
func (e *Engine) Query(ctx context.Context, shape spatial.Shape, opts ...Option) (Result, error) {
	o := applyOptions(opts)
	ivs := e.buf.Index().Query(shape.BBox())

	var res Result
	ok := e.scan(ctx, ivs, shape, &o, func(id uint32, p *pointcloud.Point) {
		res.Matches = append(res.Matches, emit(id, p, &o))
	})
	res.Interrupted = !ok
	return res, nil
}

// QueryIntervals returns every point whose id lies in ivs, without any
// spatial test.
func (e *Engine) QueryIntervals(ctx context.Context, ivs []spatial.Interval, opts ...Option) (Result, error) {
	o := applyOptions(opts)
	ivs = spatial.MergeIntervals(slices.Clone(ivs))

	var res Result
	ok := e.scan(ctx, ivs, nil, &o, func(id uint32, p *pointcloud.Point) {
		res.Matches = append(res.Matches, emit(id, p, &o))
	})
	res.Interrupted = !ok
	return res, nil
}

// Get returns the point with the given id. It reports false when the id is
// out of range, withheld (unless included) or rejected by the filter.
func (e *Engine) Get(id uint32, opts ...Option) (*pointcloud.Point, bool) {
	o := applyOptions(opts)
	p := pointcloud.NewPoint(e.buf.Schema())
	if !e.buf.Read(id, p) || !accept(p, nil, &o) {
		return nil, false
	}
	if o.transform != nil {
		o.transform(p)
	}
	return p, true
}

// InitialRadius returns the first search radius used by KNN for k neighbours:
// sqrt(k / (density * pi)) * 1.5 where density is points per square unit of
// the buffer extent.
func (e *Engine) InitialRadius(k int) float64 {
	area := e.buf.Extent().Area()
	n := e.buf.Len()
	if n == 0 || !(area > 0) {
		return 1
	}
	density := float64(n) / area
	return math.Sqrt(float64(k)/(density*math.Pi)) * knnRadiusFactor
}

// KNN returns up to k points nearest to (x, y, z) within maxRadius, sorted by
// ascending distance. It returns fewer than k points only when fewer qualify
// within maxRadius.
func (e *Engine) KNN(ctx context.Context, x, y, z float64, k int, maxRadius float64, opts ...Option) (Result, error) {
	if k <= 0 {
		return Result{}, ErrInvalidK
	}
	if !(maxRadius > 0) {
		return Result{}, ErrInvalidRadius
	}
	o := applyOptions(opts)
	n := e.buf.Len()
	if n == 0 {
		return Result{}, nil
	}

	radius := min(e.InitialRadius(k), maxRadius)
	settled := false
	for radius < maxRadius {
		if interrupted(ctx) {
			return Result{Interrupted: true}, nil
		}
		sphere := spatial.Sphere{X: x, Y: y, Z: z, Radius: radius}
		ivs := e.buf.Index().Query(sphere.BBox())
		raw := spatial.CountIntervals(ivs)
		if raw >= k {
			survivors := 0
			if !e.scan(ctx, ivs, sphere, &o, func(uint32, *pointcloud.Point) { survivors++ }) {
				return Result{Interrupted: true}, nil
			}
			if survivors >= k {
				settled = true
				break
			}
		}
		if raw >= n && !settled {
			// Every point is already a candidate: growing further can only
			// admit points up to maxRadius.
			break
		}
		radius *= knnRadiusGrowth
	}
	if !settled || radius > maxRadius {
		radius = maxRadius
	}

	sphere := spatial.Sphere{X: x, Y: y, Z: z, Radius: radius}
	type cand struct {
		m  Match
		d2 float64
	}
	var cands []cand
	// Containment is tested on stored coordinates; the order follows the
	// transformed ones.
	ok := e.scan(ctx, e.buf.Index().Query(sphere.BBox()), sphere, &o, func(id uint32, p *pointcloud.Point) {
		m := emit(id, p, &o)
		dx, dy, dz := m.Point.X()-x, m.Point.Y()-y, m.Point.Z()-z
		cands = append(cands, cand{m: m, d2: dx*dx + dy*dy + dz*dz})
	})
	slices.SortStableFunc(cands, func(a, b cand) int {
		switch {
		case a.d2 < b.d2:
			return -1
		case a.d2 > b.d2:
			return 1
		}
		return 0
	})
	if len(cands) > k {
		cands = cands[:k]
	}

	res := Result{Matches: make([]Match, len(cands)), Interrupted: !ok}
	for i, c := range cands {
		res.Matches[i] = c.m
	}
	return res, nil
}
