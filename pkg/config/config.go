// Package config provides configuration loading and management for mrimask.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input directory layout
	Layout struct {
		// ContourSubdir is the directory inside each contour subject holding the polygons
		ContourSubdir string `yaml:"contourSubdir"`

		// ContourExt is the suffix a contour file must end with
		ContourExt string `yaml:"contourExt"`

		// ImageExt is the suffix of slice image files, including the dot
		ImageExt string `yaml:"imageExt"`

		// SliceIndexStart and SliceIndexEnd select the characters of a contour
		// filename that hold the zero-padded slice number
		SliceIndexStart int `yaml:"sliceIndexStart"`
		SliceIndexEnd   int `yaml:"sliceIndexEnd"`
	} `yaml:"layout"`

	// Batch sampling parameters
	Sampler struct {
		// BatchSize is the number of pairs per batch
		BatchSize int `yaml:"batchSize"`

		// Seed seeds the shuffle; 0 picks a random seed
		Seed uint64 `yaml:"seed"`

		// Batches is how many batches the sample command draws
		Batches int `yaml:"batches"`
	} `yaml:"sampler"`

	// Overlay montage parameters
	Visualization struct {
		Rows     int     `yaml:"rows"`
		Cols     int     `yaml:"cols"`
		TileSize int     `yaml:"tileSize"`
		Alpha    float64 `yaml:"alpha"`
	} `yaml:"visualization"`

	// Output parameters
	Output struct {
		// Verbose logs one line per processed slice
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Layout.ContourSubdir = "i-contours"
	cfg.Layout.ContourExt = ".txt"
	cfg.Layout.ImageExt = ".dcm"
	cfg.Layout.SliceIndexStart = 8
	cfg.Layout.SliceIndexEnd = 12

	cfg.Sampler.BatchSize = 8
	cfg.Sampler.Seed = 0
	cfg.Sampler.Batches = 1

	cfg.Visualization.Rows = 4
	cfg.Visualization.Cols = 4
	cfg.Visualization.TileSize = 128
	cfg.Visualization.Alpha = 0.35

	cfg.Output.Verbose = true

	return cfg
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if c.Layout.ContourSubdir == "" {
		return fmt.Errorf("layout.contourSubdir must not be empty")
	}
	if c.Layout.SliceIndexStart < 0 || c.Layout.SliceIndexEnd <= c.Layout.SliceIndexStart {
		return fmt.Errorf("invalid slice index range [%d, %d)", c.Layout.SliceIndexStart, c.Layout.SliceIndexEnd)
	}
	if c.Sampler.BatchSize <= 0 {
		return fmt.Errorf("sampler.batchSize must be positive, got %d", c.Sampler.BatchSize)
	}
	if c.Visualization.Rows <= 0 || c.Visualization.Cols <= 0 || c.Visualization.TileSize <= 0 {
		return fmt.Errorf("visualization rows, cols and tileSize must be positive")
	}
	if c.Visualization.Alpha < 0 || c.Visualization.Alpha > 1 {
		return fmt.Errorf("visualization.alpha must be in [0, 1], got %v", c.Visualization.Alpha)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
