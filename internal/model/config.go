package model

import (
	"fmt"
	"io"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config is the processing configuration. It can be loaded from a YAML
// file, individual fields are overridden by CLI flags.
type Config struct {
	// Workers is the maximum number of jobs running at the same time.
	Workers int `yaml:"workers"`
	// Pattern selects job executables inside the target directory.
	Pattern string `yaml:"pattern"`
	// LogDir receives per-job output logs and the resume log. Empty
	// disables both.
	LogDir string `yaml:"log_dir"`
	// Rerun set to false skips jobs whose expected output already exists.
	Rerun *bool `yaml:"rerun,omitempty"`
	// OutputTemplate names the expected output of a job, {name} is
	// replaced with the job's base name. Used only when Rerun is false.
	OutputTemplate string `yaml:"output_template,omitempty"`
	// StatusAddr enables the status HTTP server when non-empty.
	StatusAddr string `yaml:"status_addr,omitempty"`
	Verbose    *bool  `yaml:"verbose,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Workers: 1,
		Pattern: "*.sh",
	}
}

// LoadConfig decodes YAML from r on top of the defaults and validates the
// result. Unknown fields are an error.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Workers > 64*runtime.NumCPU() {
		return fmt.Errorf("workers %d is unreasonably high for this machine", c.Workers)
	}
	if c.Pattern == "" {
		return fmt.Errorf("pattern must not be empty")
	}
	return nil
}

// DoRerun reports whether already-produced outputs should be processed
// again. Default is true, matching a fresh run.
func (c Config) DoRerun() bool {
	return c.Rerun == nil || *c.Rerun
}

func (c Config) IsVerbose() bool {
	return c.Verbose != nil && *c.Verbose
}
