package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoReader is returned when the first stage is not a reader.
	ErrNoReader = errors.New("pipeline must start with a reader")
	// ErrReaderPosition is returned for a reader after the first stage.
	ErrReaderPosition = errors.New("reader must be the first stage")
	// ErrUnsupportedStage is returned for an unknown stage kind.
	ErrUnsupportedStage = errors.New("unsupported stage")
	// ErrDuplicateUID is returned when two stages share an id.
	ErrDuplicateUID = errors.New("duplicate uid")
	// ErrUIDNotFound is returned when a reference names no earlier stage.
	ErrUIDNotFound = errors.New("uid not found")
	// ErrIncompatibleStages is returned when a reference resolves to a stage
	// of the wrong kind.
	ErrIncompatibleStages = errors.New("incompatible stage combination")
	// ErrInvalidParameter is returned for malformed stage parameters or
	// filters.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ConfigError reports a pipeline that cannot be built. It is detected before
// any stage runs.
//
// The rule that was violated is one of the Err* sentinels of this package
// and can be tested with errors.Is.
type ConfigError struct {
	// Index is the position of the offending stage, or -1 for the whole
	// pipeline.
	Index int
	Kind  string
	UID   string
	// Detail describes the violation.
	Detail string
	cause  error
}

func (e *ConfigError) Error() string {
	msg := "pipeline: "
	if e.Index >= 0 {
		msg += fmt.Sprintf("stage %d", e.Index)
		if e.Kind != "" {
			msg += " (" + e.Kind
			if e.UID != "" {
				msg += fmt.Sprintf(" %q", e.UID)
			}
			msg += ")"
		}
		msg += ": "
	}
	msg += e.cause.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.cause }

func configError(idx int, sc StageConfig, rule error, format string, args ...any) *ConfigError {
	return &ConfigError{
		Index:  idx,
		Kind:   sc.Kind,
		UID:    sc.ID,
		Detail: fmt.Sprintf(format, args...),
		cause:  rule,
	}
}
