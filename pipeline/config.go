package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Config is an ordered list of stage descriptors.
type Config struct {
	Stages []StageConfig `yaml:"stages"`
}

// StageConfig describes one stage. Kind-specific parameters are written
// next to the common keys and collected in Params.
type StageConfig struct {
	Kind   string         `yaml:"kind"`
	ID     string         `yaml:"id,omitempty"`
	Filter string         `yaml:"filter,omitempty"`
	Output string         `yaml:"output,omitempty"`
	Params map[string]any `yaml:",inline"`
}

// NewStageConfig returns a descriptor for kind with the given parameters.
func NewStageConfig(kind, id string, params map[string]any) StageConfig {
	return StageConfig{Kind: kind, ID: id, Params: params}
}

// ParseConfig decodes a YAML pipeline.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("pipeline: parse config: %w", err)
	}
	return cfg, nil
}

// decodeParams decodes the kind-specific parameters into dst. Unknown keys
// are rejected.
func (sc StageConfig) decodeParams(dst any) error {
	if len(sc.Params) == 0 {
		return nil
	}
	data, err := yaml.Marshal(sc.Params)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
