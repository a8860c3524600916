package cloudpipe

import (
	"errors"
	"fmt"

	"github.com/lidarkit/cloudpipe/catalog"
	"github.com/lidarkit/cloudpipe/pipeline"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/reader"
)

var (
	// ErrConfig is returned for a malformed pipeline or job configuration.
	// Nothing is executed when it is returned.
	ErrConfig = errors.New("invalid configuration")

	// ErrAllocation is returned when a point buffer cannot grow or migrate.
	ErrAllocation = errors.New("allocation failed")

	// ErrFormat is returned when a source file cannot be opened or parsed.
	ErrFormat = errors.New("unreadable point file")

	// ErrNoInput is returned when no input file is found.
	ErrNoInput = errors.New("no input files")

	// ErrClosed is returned when using a closed Cloud.
	ErrClosed = errors.New("cloud closed")
)

// translateError maps package errors to the sentinels above. The original
// error stays in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ce *pipeline.ConfigError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	var ae *pointcloud.AllocationError
	if errors.As(err, &ae) || errors.Is(err, pointcloud.ErrCapacity) {
		return fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	var fe *reader.FormatError
	if errors.As(err, &fe) {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if errors.Is(err, catalog.ErrEmpty) {
		return fmt.Errorf("%w: %w", ErrNoInput, err)
	}
	if errors.Is(err, catalog.ErrUnsupportedShape) {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return err
}
