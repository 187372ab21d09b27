// Package config loads the graphflow configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/graphflow-go/internal/graph"
	"github.com/Benny93/graphflow-go/internal/storage"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "graphflow.yaml"

// Config is the root of graphflow.yaml.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Properties PropertiesConfig `yaml:"properties"`
	Query      QueryConfig      `yaml:"query"`
	Watch      WatchConfig      `yaml:"watch"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// File, when set, receives JSON logs rotated by size.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=1"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// PropertiesConfig selects the vertex and edge property backends.
type PropertiesConfig struct {
	Backend storage.Kind `yaml:"backend" validate:"oneof=memory badger"`

	// Path is the badger directory. Empty keeps badger in memory.
	Path string `yaml:"path"`
}

// QueryConfig holds executor defaults.
type QueryConfig struct {
	// Workers bounds the goroutines of a parallel count.
	Workers int `yaml:"workers" validate:"gte=1,lte=1024"`

	// DefaultLimit caps match output. Zero means unlimited.
	DefaultLimit int `yaml:"default_limit" validate:"gte=0"`

	// Version is the graph version queries read by default.
	Version string `yaml:"version" validate:"oneof=permanent merged"`
}

// WatchConfig tunes dataset reloads.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxAgeDays: 28,
		},
		Properties: PropertiesConfig{Backend: storage.KindMemory},
		Query: QueryConfig{
			Workers: runtime.GOMAXPROCS(0),
			Version: "permanent",
		},
		Watch: WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

var validate = validator.New()

// Load reads the YAML file at path over the defaults. Environment
// variables in the file are expanded. An empty path, or a missing
// DefaultFile, yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && path == DefaultFile {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := Parse([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data into cfg and validates the result. Unknown keys are
// rejected.
func Parse(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: parsing: %v", graph.ErrInvalidArgument, err)
		}
	}
	return cfg.Validate()
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrInvalidArgument, err)
	}
	return nil
}

// GraphVersion returns the parsed default query version.
func (c *Config) GraphVersion() graph.Version {
	v, err := graph.ParseVersion(c.Query.Version)
	if err != nil {
		return graph.VersionPermanent
	}
	return v
}
