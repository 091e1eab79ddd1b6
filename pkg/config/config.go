// Package config provides configuration loading and management for femurmeasure.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Epicondylar width methods
const (
	EpicondylarByNode   = "node"
	EpicondylarCaliper  = "caliper"
	EpicondylarDistance = "distance"
	EpicondylarBox      = "box"
)

// Regions names the anatomical element and node sets of a femur mesh
type Regions struct {
	Head              []int `yaml:"head,omitempty"`
	Shaft             []int `yaml:"shaft,omitempty"`
	Neck              []int `yaml:"neck,omitempty"`
	NeckLong          []int `yaml:"neckLong,omitempty"`
	GreaterTrochanter []int `yaml:"greaterTrochanter,omitempty"`
	MedialCondyle     []int `yaml:"medialCondyle,omitempty"`
	LateralCondyle    []int `yaml:"lateralCondyle,omitempty"`
	MedialEpicondyle  []int `yaml:"medialEpicondyle,omitempty"`
	LateralEpicondyle []int `yaml:"lateralEpicondyle,omitempty"`

	// SubtrochanterNodes and MidshaftNodes are closed node loops around the shaft
	SubtrochanterNodes []int `yaml:"subtrochanterNodes,omitempty"`
	MidshaftNodes      []int `yaml:"midshaftNodes,omitempty"`

	// CondyleAlignmentNodes is the lateral then medial epicondyle node pair that fixes
	// the shaft frame x axis, which points medially
	CondyleAlignmentNodes []int `yaml:"condyleAlignmentNodes,omitempty"`
}

// Validate reports every region that is missing or malformed. A femur with partial
// regions can still be measured: only the measurements that need a missing region fail.
func (r *Regions) Validate() error {
	var errs []error
	sets := []struct {
		name string
		ids  []int
	}{
		{"head", r.Head},
		{"shaft", r.Shaft},
		{"neck", r.Neck},
		{"neckLong", r.NeckLong},
		{"greaterTrochanter", r.GreaterTrochanter},
		{"medialCondyle", r.MedialCondyle},
		{"lateralCondyle", r.LateralCondyle},
		{"medialEpicondyle", r.MedialEpicondyle},
		{"lateralEpicondyle", r.LateralEpicondyle},
	}
	for _, s := range sets {
		if len(s.ids) == 0 {
			errs = append(errs, fmt.Errorf("region %s is empty", s.name))
		}
	}
	if n := len(r.SubtrochanterNodes); n < 3 {
		errs = append(errs, fmt.Errorf("subtrochanterNodes needs at least 3 nodes, got %d", n))
	}
	if n := len(r.MidshaftNodes); n < 3 {
		errs = append(errs, fmt.Errorf("midshaftNodes needs at least 3 nodes, got %d", n))
	}
	if n := len(r.CondyleAlignmentNodes); n != 2 {
		errs = append(errs, fmt.Errorf("condyleAlignmentNodes needs exactly 2 nodes, got %d", n))
	}
	return errors.Join(errs...)
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many femurs the CLI measures concurrently
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Field evaluation parameters
	Field struct {
		// Density is the number of evaluation points per element along each
		// parametric direction
		Density [2]int `yaml:"density"`

		// FrameDensity is the coarse density used for the shaft frame centre
		FrameDensity [2]int `yaml:"frameDensity"`
	} `yaml:"field"`

	// Neck cross-section search parameters
	NeckSearch struct {
		// AcceptanceDistance is the half-thickness of a cutting plane in mm
		AcceptanceDistance float64 `yaml:"acceptanceDistance"`

		// EndOffset shortens the search segment at the head end, in mm
		EndOffset float64 `yaml:"endOffset"`

		// FreeTolerance and LineTolerance bound the change in parameters and objective
		// between iterations at convergence
		FreeTolerance float64 `yaml:"freeTolerance"`
		LineTolerance float64 `yaml:"lineTolerance"`

		// FreeMaxEvaluations and LineMaxEvaluations are the objective budgets
		FreeMaxEvaluations int `yaml:"freeMaxEvaluations"`
		LineMaxEvaluations int `yaml:"lineMaxEvaluations"`
	} `yaml:"neckSearch"`

	// Measurement parameters
	Measurement struct {
		// EpicondylarMethod is one of node, caliper, distance or box
		EpicondylarMethod string `yaml:"epicondylarMethod"`

		// Names restricts the CLI to the listed measurements; empty means all
		Names []string `yaml:"names,omitempty"`
	} `yaml:"measurement"`

	// Regions of the femur mesh
	Regions Regions `yaml:"regions"`

	// Output parameters
	Output struct {
		// Directory receives measurement files and STL exports
		Directory string `yaml:"directory"`

		// SaveSTL exports the evaluated surface and the neck footprint
		SaveSTL bool `yaml:"saveSTL"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Field.Density = [2]int{20, 20}
	cfg.Field.FrameDensity = [2]int{5, 5}

	cfg.NeckSearch.AcceptanceDistance = 1.0
	cfg.NeckSearch.EndOffset = 5.0
	cfg.NeckSearch.FreeTolerance = 1e-6
	cfg.NeckSearch.LineTolerance = 1e-3
	cfg.NeckSearch.FreeMaxEvaluations = 6000
	cfg.NeckSearch.LineMaxEvaluations = 500

	cfg.Measurement.EpicondylarMethod = EpicondylarByNode

	cfg.Output.Directory = "measurements"
	cfg.Output.SaveSTL = false
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks the parameters that cannot be corrected later. Regions are not
// checked here; see Regions.Validate.
func (c *Config) Validate() error {
	var errs []error
	if c.Field.Density[0] < 2 || c.Field.Density[1] < 2 {
		errs = append(errs, fmt.Errorf("field.density %v: each direction needs at least 2 samples", c.Field.Density))
	}
	if c.Field.FrameDensity[0] < 2 || c.Field.FrameDensity[1] < 2 {
		errs = append(errs, fmt.Errorf("field.frameDensity %v: each direction needs at least 2 samples", c.Field.FrameDensity))
	}
	if c.NeckSearch.AcceptanceDistance <= 0 {
		errs = append(errs, fmt.Errorf("neckSearch.acceptanceDistance must be positive"))
	}
	if c.NeckSearch.FreeTolerance <= 0 || c.NeckSearch.LineTolerance <= 0 {
		errs = append(errs, fmt.Errorf("neckSearch tolerances must be positive"))
	}
	if c.NeckSearch.FreeMaxEvaluations <= 0 || c.NeckSearch.LineMaxEvaluations <= 0 {
		errs = append(errs, fmt.Errorf("neckSearch evaluation budgets must be positive"))
	}
	switch c.Measurement.EpicondylarMethod {
	case EpicondylarByNode, EpicondylarCaliper, EpicondylarDistance, EpicondylarBox:
	default:
		errs = append(errs, fmt.Errorf("unknown measurement.epicondylarMethod %q", c.Measurement.EpicondylarMethod))
	}
	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

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

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

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
