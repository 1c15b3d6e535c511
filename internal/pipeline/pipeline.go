// Package pipeline drives a model through the staged transformation
// sequence: analyse, incorporate, type, declutter, then optionally
// concretize the streaming dimension or pulse it, then optimize.
//
// The driver owns the current graph exclusively and hands it to one stage at
// a time; a stage consumes its input model and returns a model of the same
// or a stricter kind. On failure the driver reports the failing stage
// together with the snapshot taken just before it ran.
package pipeline

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lijianhackthon/tract/internal/analyser"
	"github.com/lijianhackthon/tract/internal/declutter"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/incorporate"
	"github.com/lijianhackthon/tract/internal/optimize"
	"github.com/lijianhackthon/tract/internal/pulse"
)

// StageError wraps a stage failure with the last good graph snapshot, taken
// immediately before the failing stage.
type StageError struct {
	Stage    string
	Err      error
	LastGood *graph.Graph
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result carries the model produced by the last executed stage. Exactly one
// of Inference, Typed, Pulsed is set, matching the kind the stop stage
// produces.
type Result struct {
	Stage     string
	Inference *graph.InferenceModel
	Typed     *graph.TypedModel
	Pulsed    *pulse.Model
	// Snapshots holds the pre-stage snapshot of every executed stage when
	// Options.KeepSnapshots is on.
	Snapshots map[string]*graph.Graph
}

// Graph returns the graph of whichever model the result carries.
func (r *Result) Graph() *graph.Graph {
	switch {
	case r.Inference != nil:
		return r.Inference.Graph
	case r.Typed != nil:
		return r.Typed.Graph
	default:
		return r.Pulsed.Graph
	}
}

// state is the driver's exclusive hold on the current model. Stages move the
// graph between the three slots; at any point exactly one is non-nil.
type state struct {
	inference *graph.InferenceModel
	typed     *graph.TypedModel
	pulsed    *pulse.Model
}

func (s *state) graph() *graph.Graph {
	switch {
	case s.inference != nil:
		return s.inference.Graph
	case s.typed != nil:
		return s.typed.Graph
	default:
		return s.pulsed.Graph
	}
}

type stage struct {
	name string
	run  func(s *state) error
}

// stages builds the explicit stage table for the given options. The
// streaming-dimension and pulse branches are mutually exclusive.
func stages(opts Options) []stage {
	list := []stage{
		{StageLoad, func(s *state) error { return nil }},
		{StageAnalyse, func(s *state) error {
			return analyser.Analyse(s.inference, opts.FailFast)
		}},
		{StageIncorporate, func(s *state) error {
			m, err := incorporate.Incorporate(s.inference)
			if err != nil {
				return err
			}
			s.inference = m
			return nil
		}},
		{StageType, func(s *state) error {
			m, err := s.inference.IntoTyped()
			if err != nil {
				return err
			}
			s.inference, s.typed = nil, m
			return nil
		}},
		{StageDeclutter, declutterStage},
	}
	switch {
	case opts.ConcretizeStreamDim > 0:
		list = append(list,
			stage{StageConcretize, func(s *state) error {
				m, err := pulse.ConcretizeStreamDim(s.typed, opts.ConcretizeStreamDim)
				if err != nil {
					return err
				}
				s.typed = m
				return nil
			}},
			stage{StageConcretizeDeclutter, declutterStage},
		)
	case opts.Pulse > 0:
		list = append(list,
			stage{StagePulse, func(s *state) error {
				m, err := pulse.NewPulsed(s.typed, opts.Pulse)
				if err != nil {
					return err
				}
				s.typed, s.pulsed = nil, m
				return nil
			}},
			stage{StagePulseToType, func(s *state) error {
				m, err := s.pulsed.IntoTyped()
				if err != nil {
					return err
				}
				s.pulsed, s.typed = nil, m
				return nil
			}},
			stage{StagePulseDeclutter, declutterStage},
		)
	}
	list = append(list, stage{StageOptimize, func(s *state) error {
		m, err := optimize.Optimize(s.typed)
		if err != nil {
			return err
		}
		s.typed = m
		return nil
	}})
	return list
}

func declutterStage(s *state) error {
	m, err := declutter.Declutter(s.typed)
	if err != nil {
		return err
	}
	s.typed = m
	return nil
}

// Run drives the model through the pipeline, honoring stop-at. The caller
// hands over the model: after Run returns, only the Result's reference to
// the graph is valid.
func Run(opts Options, m *graph.InferenceModel) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	stopAt := opts.stopAt()
	logrus.Infof("pipeline will stop at %s", stopAt)

	s := &state{inference: m}
	result := &Result{}
	if opts.KeepSnapshots {
		result.Snapshots = make(map[string]*graph.Graph)
	}

	for _, st := range stages(opts) {
		snapshot := s.graph().Clone()
		if opts.KeepSnapshots {
			result.Snapshots[st.name] = snapshot
		}
		logrus.Infof("running stage %s", st.name)
		if err := st.run(s); err != nil {
			return nil, &StageError{Stage: st.name, Err: err, LastGood: snapshot}
		}
		if st.name == stopAt {
			result.Stage = st.name
			result.Inference, result.Typed, result.Pulsed = s.inference, s.typed, s.pulsed
			return result, nil
		}
	}
	result.Stage = StageOptimize
	result.Inference, result.Typed, result.Pulsed = s.inference, s.typed, s.pulsed
	return result, nil
}
