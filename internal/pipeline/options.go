package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Stage names are the public, stable vocabulary for stop-at selection and
// logging hooks.
const (
	StageLoad                = "load"
	StageAnalyse             = "analyse"
	StageIncorporate         = "incorporate"
	StageType                = "type"
	StageDeclutter           = "declutter"
	StageConcretize          = "concretize-stream-dim"
	StageConcretizeDeclutter = "concretize-stream-dim-declutter"
	StagePulse               = "pulse"
	StagePulseToType         = "pulse-to-type"
	StagePulseDeclutter      = "pulse-declutter"
	StageOptimize            = "optimize"
)

// StageNames lists every stage in pipeline order.
func StageNames() []string {
	return []string{
		StageLoad, StageAnalyse, StageIncorporate, StageType, StageDeclutter,
		StageConcretize, StageConcretizeDeclutter,
		StagePulse, StagePulseToType, StagePulseDeclutter,
		StageOptimize,
	}
}

// Options is the configuration surface consumed by the driver.
type Options struct {
	// Pulse rewrites the streaming axis into fixed windows of this length.
	Pulse int `yaml:"pulse"`
	// ConcretizeStreamDim substitutes this length for the streaming axis.
	// Mutually exclusive with Pulse.
	ConcretizeStreamDim int `yaml:"concretize-stream-dim"`
	// StopAt halts the pipeline after the named stage and returns its
	// result. Empty selects the default final stage.
	StopAt string `yaml:"stop-at"`
	// Optimize runs the optimizer (and makes it the default stop).
	Optimize bool `yaml:"optimize"`
	// FailFast aborts analysis on the first conflict instead of collecting.
	FailFast bool `yaml:"fail-fast"`
	// KeepSnapshots retains a pre-stage snapshot for every stage, trading
	// memory for diagnostics.
	KeepSnapshots bool `yaml:"keep-snapshots"`
}

// LoadOptions reads an Options YAML file.
func LoadOptions(path string) (Options, error) {
	var opts Options
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("reading options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parsing options %s: %w", path, err)
	}
	return opts, nil
}

// Validate rejects inconsistent option combinations.
func (o Options) Validate() error {
	if o.Pulse < 0 {
		return fmt.Errorf("pulse must be positive, got %d", o.Pulse)
	}
	if o.ConcretizeStreamDim < 0 {
		return fmt.Errorf("concretize-stream-dim must be positive, got %d", o.ConcretizeStreamDim)
	}
	if o.Pulse > 0 && o.ConcretizeStreamDim > 0 {
		return fmt.Errorf("pulse and concretize-stream-dim are mutually exclusive")
	}
	if o.StopAt != "" {
		known := false
		for _, name := range StageNames() {
			if name == o.StopAt {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown stage %q", o.StopAt)
		}
		switch o.StopAt {
		case StageConcretize, StageConcretizeDeclutter:
			if o.ConcretizeStreamDim == 0 {
				return fmt.Errorf("stop-at %s requires concretize-stream-dim", o.StopAt)
			}
		case StagePulse, StagePulseToType, StagePulseDeclutter:
			if o.Pulse == 0 {
				return fmt.Errorf("stop-at %s requires pulse", o.StopAt)
			}
		}
	}
	return nil
}

// stopAt resolves the effective stop stage, mirroring the historical
// defaults: optimize when asked for, else the declutter closing the selected
// branch.
func (o Options) stopAt() string {
	if o.StopAt != "" {
		return o.StopAt
	}
	switch {
	case o.Optimize:
		return StageOptimize
	case o.ConcretizeStreamDim > 0:
		return StageConcretizeDeclutter
	case o.Pulse > 0:
		return StagePulseDeclutter
	default:
		return StageDeclutter
	}
}
