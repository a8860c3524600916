// Package filter parses the point filter expressions attached to pipeline
// stages, for example "-keep_class 2 9 -drop_z_below 0".
//
// An expression is a sequence of clauses that must all hold for a point to be
// kept. Parsing is schema independent; Bind resolves attribute names against a
// concrete schema and returns a predicate usable by the query engine.
package filter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/query"
)

// ErrUnknownClause is returned for unrecognised clause names.
var ErrUnknownClause = errors.New("filter: unknown clause")

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Expr  string
	Token string
	Msg   string
	cause error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter: %s at %q in %q", e.Msg, e.Token, e.Expr)
}

func (e *SyntaxError) Unwrap() error { return e.cause }

type op int

const (
	opKeepRange op = iota
	opDropRange
	opKeepSet
	opDropSet
	opKeepFirst
	opKeepLast
	opDropFirst
	opDropLast
	opKeepSingle
	opKeepXY
)

type clause struct {
	op     op
	attr   string
	lo, hi float64
	set    []float64
	xy     [4]float64
}

// Filter is a parsed expression. The zero value and nil keep every point.
type Filter struct {
	expr    string
	clauses []clause
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Empty reports whether the filter keeps every point.
func (f *Filter) Empty() bool { return f == nil || len(f.clauses) == 0 }

type flagDef struct {
	attr  string
	op    op
	nargs int // -1: one or more values
	bound int // 0 none, -1 below (drop v < x), +1 above
}

var flagDefs = map[string]flagDef{
	"keep_class":           {attr: pointcloud.AttrClassification, op: opKeepSet, nargs: -1},
	"drop_class":           {attr: pointcloud.AttrClassification, op: opDropSet, nargs: -1},
	"keep_return":          {attr: pointcloud.AttrReturnNumber, op: opKeepSet, nargs: -1},
	"drop_return":          {attr: pointcloud.AttrReturnNumber, op: opDropSet, nargs: -1},
	"keep_point_source":    {attr: pointcloud.AttrPointSourceID, op: opKeepSet, nargs: -1},
	"drop_point_source":    {attr: pointcloud.AttrPointSourceID, op: opDropSet, nargs: -1},
	"keep_user_data":       {attr: pointcloud.AttrUserData, op: opKeepSet, nargs: -1},
	"drop_user_data":       {attr: pointcloud.AttrUserData, op: opDropSet, nargs: -1},
	"keep_z":               {attr: pointcloud.AttrZ, op: opKeepRange, nargs: 2},
	"drop_z":               {attr: pointcloud.AttrZ, op: opDropRange, nargs: 2},
	"drop_z_below":         {attr: pointcloud.AttrZ, op: opKeepRange, nargs: 1, bound: -1},
	"drop_z_above":         {attr: pointcloud.AttrZ, op: opKeepRange, nargs: 1, bound: 1},
	"keep_intensity":       {attr: pointcloud.AttrIntensity, op: opKeepRange, nargs: 2},
	"drop_intensity":       {attr: pointcloud.AttrIntensity, op: opDropRange, nargs: 2},
	"drop_intensity_below": {attr: pointcloud.AttrIntensity, op: opKeepRange, nargs: 1, bound: -1},
	"drop_intensity_above": {attr: pointcloud.AttrIntensity, op: opKeepRange, nargs: 1, bound: 1},
	"keep_scan_angle":      {attr: pointcloud.AttrScanAngle, op: opKeepRange, nargs: 2},
	"drop_scan_angle":      {attr: pointcloud.AttrScanAngle, op: opDropRange, nargs: 2},
	"keep_gps_time":        {attr: pointcloud.AttrGPSTime, op: opKeepRange, nargs: 2},
	"drop_gps_time":        {attr: pointcloud.AttrGPSTime, op: opDropRange, nargs: 2},
	"keep_first":           {op: opKeepFirst},
	"keep_last":            {op: opKeepLast},
	"drop_first":           {op: opDropFirst},
	"drop_last":            {op: opDropLast},
	"keep_single":          {op: opKeepSingle},
	"keep_xy":              {op: opKeepXY, nargs: 4},
}

// Parse parses expr. An empty expression yields a nil filter.
func Parse(expr string) (*Filter, error) {
	toks := strings.Fields(expr)
	if len(toks) == 0 {
		return nil, nil
	}

	f := &Filter{expr: strings.Join(toks, " ")}
	for i := 0; i < len(toks); {
		tok := toks[i]
		if !strings.HasPrefix(tok, "-") || len(tok) < 2 {
			return nil, &SyntaxError{Expr: expr, Token: tok, Msg: "expected a clause starting with '-'"}
		}
		name := tok[1:]
		i++

		// Numeric-looking clause names are values in the wrong place.
		if _, err := strconv.ParseFloat(name, 64); err == nil {
			return nil, &SyntaxError{Expr: expr, Token: tok, Msg: "unexpected value"}
		}

		var args []float64
		for i < len(toks) {
			v, err := strconv.ParseFloat(toks[i], 64)
			if err != nil {
				break
			}
			args = append(args, v)
			i++
		}

		c, err := build(name, args)
		if err != nil {
			return nil, &SyntaxError{Expr: expr, Token: tok, Msg: err.Error(), cause: err}
		}
		f.clauses = append(f.clauses, c)
	}
	return f, nil
}

func build(name string, args []float64) (clause, error) {
	if attr, ok := strings.CutPrefix(name, "keep_attribute_"); ok {
		return rangeClause(opKeepRange, attr, args)
	}
	if attr, ok := strings.CutPrefix(name, "drop_attribute_"); ok {
		return rangeClause(opDropRange, attr, args)
	}

	sp, ok := flagDefs[name]
	if !ok {
		return clause{}, fmt.Errorf("%w: -%s", ErrUnknownClause, name)
	}

	switch {
	case sp.nargs == -1:
		if len(args) == 0 {
			return clause{}, errors.New("expected at least one value")
		}
		return clause{op: sp.op, attr: sp.attr, set: args}, nil
	case len(args) != sp.nargs:
		return clause{}, fmt.Errorf("expected %d values, got %d", sp.nargs, len(args))
	}

	switch {
	case sp.op == opKeepXY:
		return clause{op: opKeepXY, xy: [4]float64{args[0], args[1], args[2], args[3]}}, nil
	case sp.bound < 0:
		return clause{op: sp.op, attr: sp.attr, lo: args[0], hi: math.Inf(1)}, nil
	case sp.bound > 0:
		return clause{op: sp.op, attr: sp.attr, lo: math.Inf(-1), hi: args[0]}, nil
	case sp.nargs == 2:
		return rangeClause(sp.op, sp.attr, args)
	}
	return clause{op: sp.op}, nil
}

func rangeClause(o op, attr string, args []float64) (clause, error) {
	if attr == "" {
		return clause{}, errors.New("missing attribute name")
	}
	if len(args) != 2 {
		return clause{}, fmt.Errorf("expected 2 values, got %d", len(args))
	}
	if args[0] > args[1] {
		return clause{}, fmt.Errorf("empty range [%g, %g]", args[0], args[1])
	}
	return clause{op: o, attr: attr, lo: args[0], hi: args[1]}, nil
}

// Bind resolves the filter against schema. It returns nil when the filter is
// empty.
func (f *Filter) Bind(schema *pointcloud.Schema) (query.Filter, error) {
	if f.Empty() {
		return nil, nil
	}

	preds := make([]query.Filter, 0, len(f.clauses))
	for _, c := range f.clauses {
		p, err := c.bind(schema)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", f.expr, err)
		}
		preds = append(preds, p)
	}

	return func(p *pointcloud.Point) bool {
		for _, pred := range preds {
			if !pred(p) {
				return false
			}
		}
		return true
	}, nil
}

func (c clause) bind(s *pointcloud.Schema) (query.Filter, error) {
	switch c.op {
	case opKeepXY:
		return func(p *pointcloud.Point) bool {
			x, y := p.X(), p.Y()
			return x >= c.xy[0] && y >= c.xy[1] && x <= c.xy[2] && y <= c.xy[3]
		}, nil
	case opKeepFirst, opDropFirst:
		rn, err := s.Handle(pointcloud.AttrReturnNumber)
		if err != nil {
			return nil, err
		}
		keep := c.op == opKeepFirst
		return func(p *pointcloud.Point) bool { return (p.Value(rn) == 1) == keep }, nil
	case opKeepLast, opDropLast, opKeepSingle:
		rn, err := s.Handle(pointcloud.AttrReturnNumber)
		if err != nil {
			return nil, err
		}
		nr, err := s.Handle(pointcloud.AttrNumberOfReturns)
		if err != nil {
			return nil, err
		}
		switch c.op {
		case opKeepLast:
			return func(p *pointcloud.Point) bool { return p.Value(rn) == p.Value(nr) }, nil
		case opDropLast:
			return func(p *pointcloud.Point) bool { return p.Value(rn) != p.Value(nr) }, nil
		default:
			return func(p *pointcloud.Point) bool { return p.Value(nr) == 1 }, nil
		}
	}

	h, err := s.Handle(c.attr)
	if err != nil {
		return nil, err
	}
	switch c.op {
	case opKeepRange:
		return func(p *pointcloud.Point) bool { v := p.Value(h); return v >= c.lo && v <= c.hi }, nil
	case opDropRange:
		return func(p *pointcloud.Point) bool { v := p.Value(h); return v < c.lo || v > c.hi }, nil
	case opKeepSet:
		return func(p *pointcloud.Point) bool { return contains(c.set, p.Value(h)) }, nil
	case opDropSet:
		return func(p *pointcloud.Point) bool { return !contains(c.set, p.Value(h)) }, nil
	}
	return nil, fmt.Errorf("%w: op %d", ErrUnknownClause, c.op)
}

func contains(set []float64, v float64) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
