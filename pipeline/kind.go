package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a stage implementation. The set of kinds is closed.
type Kind uint8

const (
	KindReader Kind = iota + 1
	KindRasterize
	KindTriangulate
	KindTransformWithTriangulation
	KindPitFill
	KindLocalMaximum
	KindRegionGrowing
	KindBoundaries
	KindSamplingVoxel
	KindSamplingPixel
	KindSamplingPoisson
	KindClassifyIsolatedPoints
	KindAddExtrabytes
	KindAddRGB
	KindSummarise
	KindWritePCD
	KindWriteIndex
	KindNothing
)

var kindNames = map[Kind]string{
	KindReader:                     "reader",
	KindRasterize:                  "rasterize",
	KindTriangulate:                "triangulate",
	KindTransformWithTriangulation: "transform_with_triangulation",
	KindPitFill:                    "pit_fill",
	KindLocalMaximum:               "local_maximum",
	KindRegionGrowing:              "region_growing",
	KindBoundaries:                 "boundaries",
	KindSamplingVoxel:              "sampling_voxel",
	KindSamplingPixel:              "sampling_pixel",
	KindSamplingPoisson:            "sampling_poisson",
	KindClassifyIsolatedPoints:     "classify_isolated_points",
	KindAddExtrabytes:              "add_extrabytes",
	KindAddRGB:                     "add_rgb",
	KindSummarise:                  "summarise",
	KindWritePCD:                   "write_pcd",
	KindWriteIndex:                 "write_index",
	KindNothing:                    "nothing",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// ParseKind returns the kind for a configuration name.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindByName[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// Kinds returns every kind name in lexical order.
func Kinds() []string {
	names := make([]string, 0, len(kindNames))
	for _, n := range kindNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Capability is a set of typed outputs a stage kind can provide to stages
// that reference it.
type Capability uint8

const (
	// CapReader marks the stage that supplies points.
	CapReader Capability = 1 << iota
	// CapRaster marks stages exposing a raster through AsRasterProducer.
	CapRaster
	// CapSurface marks stages exposing a surface through AsSurfaceProducer.
	CapSurface
	// CapSeeds marks stages exposing seed points through AsSeedProducer.
	CapSeeds
	// CapRasterBuilder marks stages that build a raster from points, as
	// opposed to stages that derive one from another raster.
	CapRasterBuilder
)

// Has reports whether c contains every flag of o.
func (c Capability) Has(o Capability) bool { return c&o == o }

func (c Capability) String() string {
	var parts []string
	for _, f := range []struct {
		c    Capability
		name string
	}{{CapReader, "reader"}, {CapRaster, "raster"}, {CapSurface, "surface"}, {CapSeeds, "seeds"}, {CapRasterBuilder, "raster_builder"}} {
		if c.Has(f.c) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Capabilities returns the typed outputs of kind k.
func (k Kind) Capabilities() Capability {
	switch k {
	case KindReader:
		return CapReader
	case KindRasterize:
		return CapRaster | CapRasterBuilder
	case KindPitFill, KindRegionGrowing:
		return CapRaster
	case KindTriangulate:
		return CapSurface
	case KindLocalMaximum:
		return CapSeeds
	}
	return 0
}
