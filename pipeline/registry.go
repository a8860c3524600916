package pipeline

import (
	"github.com/lidarkit/cloudpipe/filter"
)

// Handle indexes a stage in a Graph in construction order.
type Handle int

// factory builds a stage from its descriptor. References to earlier stages
// are resolved through r.
type factory func(sc StageConfig, f *filter.Filter, r *resolver) (Stage, error)

var factories = map[Kind]factory{
	KindReader:                     newReaderStage,
	KindRasterize:                  newRasterize,
	KindTriangulate:                newTriangulate,
	KindTransformWithTriangulation: newTransformWithTriangulation,
	KindPitFill:                    newPitFill,
	KindLocalMaximum:               newLocalMaximum,
	KindRegionGrowing:              newRegionGrowing,
	KindBoundaries:                 newBoundaries,
	KindSamplingVoxel:              newSamplingVoxel,
	KindSamplingPixel:              newSamplingPixel,
	KindSamplingPoisson:            newSamplingPoisson,
	KindClassifyIsolatedPoints:     newClassifyIsolatedPoints,
	KindAddExtrabytes:              newAddExtrabytes,
	KindAddRGB:                     newAddRGB,
	KindSummarise:                  newSummarise,
	KindWritePCD:                   newWritePCD,
	KindWriteIndex:                 newWriteIndex,
	KindNothing:                    newNothing,
}

// resolver looks up references among the stages built so far.
type resolver struct {
	idx    int
	sc     StageConfig
	stages []Stage
	uids   map[string]Handle
	opts   *buildOptions
}

// resolve returns the handle of the earlier stage uid, which must provide
// need.
func (r *resolver) resolve(param, uid string, need Capability) (Handle, error) {
	h, ok := r.uids[uid]
	if !ok {
		return 0, configError(r.idx, r.sc, ErrUIDNotFound, "%s references %q", param, uid)
	}
	target := r.stages[h]
	if !target.Kind().Capabilities().Has(need) {
		return 0, configError(r.idx, r.sc, ErrIncompatibleStages,
			"%s %q is a %s stage, want a %s producer", param, uid, target.Kind(), need)
	}
	return h, nil
}

// resolveOptional resolves uid when it is set and returns -1 otherwise.
func (r *resolver) resolveOptional(param, uid string, need Capability) (Handle, error) {
	if uid == "" {
		return -1, nil
	}
	return r.resolve(param, uid, need)
}

// invalid returns an ErrInvalidParameter ConfigError for the current stage.
func (r *resolver) invalid(format string, args ...any) error {
	return configError(r.idx, r.sc, ErrInvalidParameter, format, args...)
}
