package cloudpipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lidarkit/cloudpipe/pipeline"
)

// StoreConfig selects where inputs are read from and outputs written to.
type StoreConfig struct {
	// Type is "local", "s3" or "minio".
	Type string `yaml:"type"`
	// Root is the directory of a local store.
	Root     string `yaml:"root,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	// AccessKey and SecretKey are used by MinIO. S3 uses the default AWS
	// credential chain.
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Secure    bool   `yaml:"secure,omitempty"`
}

// Config is a job file: where to read, where to write, the limits and the
// pipeline.
type Config struct {
	// Inputs are file names or prefixes ending with '/'.
	Inputs []string    `yaml:"inputs"`
	Input  StoreConfig `yaml:"input"`
	// Output defaults to Input.
	Output      *StoreConfig    `yaml:"output,omitempty"`
	Threads     int             `yaml:"threads,omitempty"`
	MemoryLimit int64           `yaml:"memory_limit,omitempty"`
	IOLimit     int64           `yaml:"io_limit,omitempty"`
	MaxPoints   int             `yaml:"max_points,omitempty"`
	Scale       float64         `yaml:"scale,omitempty"`
	Report      string          `yaml:"report,omitempty"`
	Pipeline    pipeline.Config `yaml:"pipeline"`
}

// OutputStore returns the output store configuration.
func (c *Config) OutputStore() StoreConfig {
	if c.Output != nil {
		return *c.Output
	}
	return c.Input
}

// Options returns the processor options set by the job file.
func (c *Config) Options() []Option {
	return []Option{
		WithThreads(c.Threads),
		WithMemoryLimit(c.MemoryLimit),
		WithIOLimit(c.IOLimit),
		WithMaxPoints(c.MaxPoints),
		WithScale(c.Scale),
	}
}

// Validate checks the job-level fields. The pipeline is validated when
// it is built.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrConfig)
	}
	if len(c.Pipeline.Stages) == 0 {
		return fmt.Errorf("%w: empty pipeline", ErrConfig)
	}
	for _, sc := range []StoreConfig{c.Input, c.OutputStore()} {
		switch strings.ToLower(sc.Type) {
		case "", "local":
		case "s3", "minio":
			if sc.Bucket == "" {
				return fmt.Errorf("%w: %s store needs a bucket", ErrConfig, sc.Type)
			}
		default:
			return fmt.Errorf("%w: unknown store type %q", ErrConfig, sc.Type)
		}
	}
	if c.Threads < 0 || c.MemoryLimit < 0 || c.IOLimit < 0 || c.MaxPoints < 0 {
		return fmt.Errorf("%w: negative limit", ErrConfig)
	}
	return nil
}

// ParseConfig decodes a YAML job. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and parses a YAML job file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}
