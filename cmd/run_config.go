package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spike-sim/spike-sim/sim"
	"github.com/spike-sim/spike-sim/sim/models"
	"github.com/spike-sim/spike-sim/sim/numeric"
	"github.com/spike-sim/spike-sim/sim/trace"
)

// NumericConfig selects the scalar type of the simulation.
type NumericConfig struct {
	Type string `yaml:"type"` // "float64" (default), "float32" or "fixed"
	Frac uint   `yaml:"frac"` // fractional bits for "fixed"
}

// OutputConfig controls run output.
type OutputConfig struct {
	Dir string `yaml:"dir"` // directory for samples.csv and events.csv; empty disables
}

// TraceConfig controls trace collection.
type TraceConfig struct {
	Level    string  `yaml:"level"`    // "none", "populations" or "events"
	Interval float64 `yaml:"interval"` // simulated time between population samples
}

// RunConfig is the run.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type RunConfig struct {
	Model     string               `yaml:"model"` // "decay" or "network"
	Until     float64              `yaml:"until"`
	Numeric   NumericConfig        `yaml:"numeric"`
	Simulator sim.Config           `yaml:"simulator"`
	Decay     models.DecayConfig   `yaml:"decay"`
	Network   models.NetworkConfig `yaml:"network"`
	Output    OutputConfig         `yaml:"output"`
	Trace     TraceConfig          `yaml:"trace"`
}

var validNumericTypes = map[string]bool{"": true, "float64": true, "float32": true, "fixed": true}

var validModels = map[string]bool{"decay": true, "network": true}

// DefaultRunConfig returns the configuration used without a config file.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Model:     "network",
		Until:     100,
		Numeric:   NumericConfig{Type: "float64", Frac: 16},
		Simulator: sim.DefaultConfig(),
		Decay:     models.DefaultDecayConfig(),
		Network:   models.DefaultNetworkConfig(),
		Trace:     TraceConfig{Level: string(trace.TraceLevelNone), Interval: 1},
	}
}

// LoadRunConfig parses path over DefaultRunConfig with strict field checking,
// so a misspelled key is an error.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading run config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing run config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c RunConfig) Validate() error {
	if !validModels[c.Model] {
		return fmt.Errorf("unknown model %q; valid options: decay, network", c.Model)
	}
	if c.Until <= 0 {
		return fmt.Errorf("until must be > 0, got %g", c.Until)
	}
	if !validNumericTypes[c.Numeric.Type] {
		return fmt.Errorf("unknown numeric type %q; valid options: float64, float32, fixed", c.Numeric.Type)
	}
	if c.Numeric.Type == "fixed" {
		if _, err := numeric.NewFixed(c.Numeric.Frac); err != nil {
			return err
		}
	}
	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	switch c.Model {
	case "decay":
		if err := c.Decay.Validate(); err != nil {
			return err
		}
	case "network":
		if err := c.Network.Validate(); err != nil {
			return err
		}
	}
	if !trace.IsValidTraceLevel(c.Trace.Level) {
		return fmt.Errorf("unknown trace level %q; valid options: none, populations, events", c.Trace.Level)
	}
	if c.Trace.Interval < 0 {
		return fmt.Errorf("trace.interval must be >= 0, got %g", c.Trace.Interval)
	}
	return nil
}
