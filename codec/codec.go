// Package codec encodes run reports and stage summaries.
//
// Reports written by the CLI record the codec name so tooling that reads
// them back can select the matching decoder with ByName.
package codec

import "fmt"

// Codec encodes and decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Indenter is implemented by codecs that can produce human-readable output.
type Indenter interface {
	MarshalIndent(v any, prefix, indent string) ([]byte, error)
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json", "":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Pretty encodes v with two-space indentation when c supports it and falls
// back to Marshal otherwise. A nil codec uses Default.
func Pretty(c Codec, v any) ([]byte, error) {
	if c == nil {
		c = Default
	}
	if in, ok := c.(Indenter); ok {
		b, err := in.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("codec %s: %w", c.Name(), err)
		}
		return append(b, '\n'), nil
	}
	b, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec %s: %w", c.Name(), err)
	}
	return b, nil
}
