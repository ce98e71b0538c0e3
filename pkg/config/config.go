// Package config loads and validates the series configuration file.
//
// A series is any directory containing booktrans.toml. Discovery walks up
// from the working directory, so every command can run from anywhere inside
// the series tree.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// MarkerFile is the series root marker and configuration file.
const MarkerFile = "booktrans.toml"

// ErrSeriesNotFound is returned when no marker file exists anywhere between
// the start directory and the filesystem root.
var ErrSeriesNotFound = errors.New("booktrans.toml not found; run `booktrans init` to create a series")

// Config is the parsed series configuration with defaults applied.
type Config struct {
	Series   SeriesConfig   `toml:"series" validate:"required"`
	Model    ModelConfig    `toml:"model"`
	Splitter SplitterConfig `toml:"splitter"`
	Workers  WorkersConfig  `toml:"workers"`
}

// SeriesConfig identifies the series and its language pair.
type SeriesConfig struct {
	Name       string `toml:"name" validate:"required"`
	SourceLang string `toml:"source_lang" validate:"required,len=2"`
	TargetLang string `toml:"target_lang" validate:"required,len=2"`
}

// ModelConfig selects the LLM backend.
type ModelConfig struct {
	Name        string  `toml:"name" validate:"required"`
	Temperature float64 `toml:"temperature" validate:"gte=0,lte=2"`
	MaxRPS      float64 `toml:"max_rps" validate:"gt=0"`
}

// SplitterConfig bounds segment sizes in characters.
type SplitterConfig struct {
	TargetChunkSize int `toml:"target_chunk_size" validate:"gt=0"`
	MaxPartChars    int `toml:"max_part_chars" validate:"gt=0,gtefield=TargetChunkSize"`
	MinChunkSize    int `toml:"min_chunk_size" validate:"gt=0,ltefield=TargetChunkSize"`
}

// WorkersConfig bounds pipeline concurrency.
type WorkersConfig struct {
	MaxConcurrent int `toml:"max_concurrent" validate:"gt=0,lte=128"`
}

// Default returns a config with every optional field at its default. The
// series name has no default; init must supply one.
func Default() Config {
	return Config{
		Series: SeriesConfig{
			SourceLang: "ja",
			TargetLang: "ru",
		},
		Model: ModelConfig{
			Name:        "gpt-4o",
			Temperature: 0.3,
			MaxRPS:      2,
		},
		Splitter: SplitterConfig{
			TargetChunkSize: 600,
			MaxPartChars:    800,
			MinChunkSize:    300,
		},
		Workers: WorkersConfig{
			MaxConcurrent: 4,
		},
	}
}

// FindSeriesRoot walks up from startDir looking for the marker file and
// returns the directory containing it.
func FindSeriesRoot(startDir string) (string, error) {
	current, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve start directory: %w", err)
	}

	for {
		marker := filepath.Join(current, MarkerFile)
		info, err := os.Stat(marker)
		if err == nil && info.Mode().IsRegular() {
			return current, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat %s: %w", marker, err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", ErrSeriesNotFound
		}
		current = parent
	}
}

// Load reads and validates the configuration at seriesRoot. Missing optional
// fields take their defaults; a missing series section or name is an error.
func Load(seriesRoot string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(seriesRoot, MarkerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSeriesNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", MarkerFile, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", MarkerFile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Discover walks up from startDir to the series root and loads its config.
// Returns the root alongside the config so callers can build paths from it.
func Discover(startDir string) (string, *Config, error) {
	root, err := FindSeriesRoot(startDir)
	if err != nil {
		return "", nil, err
	}

	cfg, err := Load(root)
	if err != nil {
		return "", nil, err
	}

	return root, cfg, nil
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Write marshals the configuration to the marker file at seriesRoot. Used by
// init; refuses to overwrite an existing file.
func Write(seriesRoot string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := filepath.Join(seriesRoot, MarkerFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists at %s", MarkerFile, seriesRoot)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", MarkerFile, err)
	}
	return nil
}
