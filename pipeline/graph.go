package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lidarkit/cloudpipe/filter"
)

type buildOptions struct {
	logger  *slog.Logger
	surface SurfaceBuilder
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithLogger sets the logger used while building and running the graph.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSurfaceBuilder replaces the interpolator used by triangulate stages.
func WithSurfaceBuilder(b SurfaceBuilder) BuildOption {
	return func(o *buildOptions) {
		if b != nil {
			o.surface = b
		}
	}
}

// Graph is a validated, immutable pipeline. It is safe to share between
// goroutines; each chunk runs on its own Instance.
type Graph struct {
	stages []Stage
	uids   map[string]Handle

	streamable  bool
	margin      float64
	needsPoints bool

	logger *slog.Logger
}

// Build validates cfg and constructs its stages in order. It fails with a
// *ConfigError before any stage runs.
func Build(cfg Config, opts ...BuildOption) (*Graph, error) {
	o := buildOptions{
		logger:  slog.New(slog.DiscardHandler),
		surface: IDWSurfaceBuilder,
	}
	for _, fn := range opts {
		fn(&o)
	}

	if len(cfg.Stages) == 0 {
		return nil, &ConfigError{Index: -1, cause: ErrNoReader, Detail: "no stages"}
	}
	if k, ok := ParseKind(cfg.Stages[0].Kind); !ok || k != KindReader {
		return nil, configError(0, cfg.Stages[0], ErrNoReader, "first stage is %q", cfg.Stages[0].Kind)
	}

	g := &Graph{
		uids:        make(map[string]Handle),
		streamable:  true,
		needsPoints: false,
		logger:      o.logger,
	}
	for i, sc := range cfg.Stages {
		k, ok := ParseKind(sc.Kind)
		if !ok {
			return nil, configError(i, sc, ErrUnsupportedStage, "unknown kind %q", sc.Kind)
		}
		if k == KindReader && i > 0 {
			return nil, configError(i, sc, ErrReaderPosition, "")
		}
		if sc.ID == "" {
			sc.ID = fmt.Sprintf("%s#%d", k, i)
		}
		if _, dup := g.uids[sc.ID]; dup {
			return nil, configError(i, sc, ErrDuplicateUID, "%q", sc.ID)
		}

		f, err := filter.Parse(sc.Filter)
		if err != nil {
			return nil, configError(i, sc, ErrInvalidParameter, "%v", err)
		}

		r := &resolver{idx: i, sc: sc, stages: g.stages, uids: g.uids, opts: &o}
		s, err := factories[k](sc, f, r)
		if err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				return nil, err
			}
			return nil, configError(i, sc, ErrInvalidParameter, "%v", err)
		}

		g.uids[sc.ID] = Handle(len(g.stages))
		g.stages = append(g.stages, s)
		g.streamable = g.streamable && s.Streamable()
		g.margin = max(g.margin, s.BufferMargin())
		g.needsPoints = g.needsPoints || s.NeedsPoints()
	}

	g.logger.Debug("pipeline built",
		"stages", len(g.stages), "streamable", g.streamable,
		"buffer_margin", g.margin, "needs_points", g.needsPoints)
	return g, nil
}

// Len returns the number of stages.
func (g *Graph) Len() int { return len(g.stages) }

// Stage returns the stage at h.
func (g *Graph) Stage(h Handle) Stage { return g.stages[h] }

// Lookup returns the handle of the stage with id uid.
func (g *Graph) Lookup(uid string) (Handle, bool) {
	h, ok := g.uids[uid]
	return h, ok
}

// Reader returns the reader stage.
func (g *Graph) Reader() *ReaderStage { return g.stages[0].(*ReaderStage) }

// Streamable is true when every stage is streamable.
func (g *Graph) Streamable() bool { return g.streamable }

// BufferMargin is the largest margin any stage needs.
func (g *Graph) BufferMargin() float64 { return g.margin }

// NeedsPoints is true when any stage reads point records.
func (g *Graph) NeedsPoints() bool { return g.needsPoints }

// Mode returns how chunks of this graph execute.
func (g *Graph) Mode() Mode {
	switch {
	case !g.needsPoints:
		return ModeHeaderOnly
	case g.streamable:
		return ModeStreaming
	default:
		return ModeBuffered
	}
}

// String lists the stages one per line.
func (g *Graph) String() string {
	var sb strings.Builder
	for i, s := range g.stages {
		fmt.Fprintf(&sb, "%d %-28s %-16s stream=%-5t margin=%-6g points=%t", i, s.Name(), s.UID(),
			s.Streamable(), s.BufferMargin(), s.NeedsPoints())
		if f := s.Filter(); f != "" {
			fmt.Fprintf(&sb, " filter=%q", f)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Instantiate clones every stage for one chunk. Handles stay valid in the
// returned instance.
func (g *Graph) Instantiate() *Instance {
	stages := make([]Stage, len(g.stages))
	for i, s := range g.stages {
		stages[i] = s.Clone()
	}
	return &Instance{graph: g, stages: stages}
}
