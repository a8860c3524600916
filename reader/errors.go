package reader

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned for file types no reader handles.
	ErrUnsupportedFormat = errors.New("reader: unsupported format")
	// ErrMalformedHeader is returned when a header cannot be parsed.
	ErrMalformedHeader = errors.New("reader: malformed header")
	// ErrMalformedRecord is returned when a record cannot be parsed.
	ErrMalformedRecord = errors.New("reader: malformed record")
	// ErrTruncated is returned when a file ends before its announced point count.
	ErrTruncated = errors.New("reader: truncated file")
	// ErrNoFiles is returned by Open when a request names no file.
	ErrNoFiles = errors.New("reader: no files to read")
)

// FormatError reports a source file that cannot be opened or parsed.
//
// The underlying error can be accessed via errors.Unwrap.
type FormatError struct {
	// Name is the file that failed.
	Name string
	// Op is "open", "header" or "read".
	Op string
	// Line is the 1-based text line of the failure, or 0 when unknown.
	Line  int
	cause error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("reader: %s %s", e.Op, e.Name)
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.cause }

func formatError(name, op string, line int, cause error) *FormatError {
	return &FormatError{Name: name, Op: op, Line: line, cause: cause}
}
