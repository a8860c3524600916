package query

import (
	"context"
	"fmt"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/spatial"
)

// State is the phase of a Session.
type State int

const (
	NotStarted State = iota
	Scanning
	Exhausted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Scanning:
		return "scanning"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is a resumable scan over a buffer. Each call to Next positions the
// buffer cursor on the returned point, so Buffer.UpdateCurrent and
// Buffer.MarkWithheld act on it.
type Session struct {
	buf  *pointcloud.Buffer
	opts options

	state     State
	shape     spatial.Shape
	bound     []spatial.Interval
	intervals []spatial.Interval
	next      int
	cursor    uint64
}

// NewSession creates a scan over buf. Without a bound shape or interval set
// the scan covers every point.
func (e *Engine) NewSession(opts ...Option) *Session {
	return &Session{buf: e.buf, opts: applyOptions(opts)}
}

// State returns the current phase.
func (s *Session) State() State { return s.state }

// Bind restricts the scan to points inside shape.
func (s *Session) Bind(shape spatial.Shape) error {
	if s.state != NotStarted {
		return ErrSessionActive
	}
	s.shape = shape
	s.bound = nil
	return nil
}

// BindIntervals restricts the scan to the given ids.
func (s *Session) BindIntervals(ivs []spatial.Interval) error {
	if s.state != NotStarted {
		return ErrSessionActive
	}
	s.shape = nil
	s.bound = spatial.MergeIntervals(append([]spatial.Interval(nil), ivs...))
	if s.bound == nil {
		s.bound = []spatial.Interval{}
	}
	return nil
}

// Reset clears any binding and returns the session to NotStarted.
func (s *Session) Reset() {
	s.state = NotStarted
	s.shape = nil
	s.bound = nil
	s.intervals = nil
	s.next = 0
	s.cursor = 0
}

func (s *Session) start() {
	switch {
	case s.bound != nil:
		s.intervals = s.bound
	case s.shape != nil:
		s.intervals = s.buf.Index().Query(s.shape.BBox())
	case s.buf.Len() > 0:
		s.intervals = []spatial.Interval{{Start: 0, End: uint32(s.buf.Len() - 1)}}
	}
	s.next = 0
	if len(s.intervals) > 0 {
		s.cursor = uint64(s.intervals[0].Start)
	}
	s.state = Scanning
}

// Next advances to the next qualifying point and returns its id and a view of
// the record. ok is false when the scan is exhausted or ctx is canceled; use
// State to tell the two apart. Transforms are applied by Collect only; Next
// always exposes the stored record.
func (s *Session) Next(ctx context.Context) (id uint32, p *pointcloud.Point, ok bool) {
	if s.state == NotStarted {
		s.start()
	}
	for s.state == Scanning {
		if s.next >= len(s.intervals) {
			s.state = Exhausted
			break
		}
		iv := s.intervals[s.next]
		if s.cursor > uint64(iv.End) || s.cursor >= uint64(s.buf.Len()) {
			s.next++
			if s.next < len(s.intervals) {
				s.cursor = uint64(s.intervals[s.next].Start)
			}
			continue
		}
		if interrupted(ctx) {
			return 0, nil, false
		}

		cur := uint32(s.cursor)
		s.cursor++
		s.buf.Seek(cur)
		p = s.buf.Current()
		if !accept(p, s.shape, &s.opts) {
			continue
		}
		return cur, p, true
	}
	return 0, nil, false
}

// Collect drains the session into a Result.
func (s *Session) Collect(ctx context.Context) Result {
	var res Result
	for {
		id, p, ok := s.Next(ctx)
		if !ok {
			break
		}
		res.Matches = append(res.Matches, emit(id, p, &s.opts))
	}
	res.Interrupted = s.state != Exhausted
	return res
}
