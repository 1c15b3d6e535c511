// Package ops defines the operation library shared by every front end and
// every pipeline stage.
//
// An operation is a plain value implementing Op plus whichever capability
// interfaces it supports: shape/type inference for the analyser, constant
// evaluation for folding and the reference plan, cost for the optimizer, and
// stateful evaluation for pulsed execution. Stages probe capabilities with
// type assertions and report ErrUnsupported when a required one is missing.
package ops

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// Op is an operation attached to a graph node.
type Op interface {
	// Name returns the operation type name, e.g. "MatMul".
	Name() string
}

// Inferrer is the shape/type inference capability. Infer receives the current
// facts of the node's inputs and outputs and returns the operation's own
// refined knowledge of both; the analyser unifies the returned facts with the
// graph's. Infer must be monotone: it may add knowledge, never contradict a
// more specific fact it was given, and never mutate its arguments.
type Inferrer interface {
	Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error)
}

// Evaler is the constant-evaluation capability, used for constant folding and
// by the reference execution plan. Evaluation is reference-grade: float32
// only, no blocking or vectorization.
type Evaler interface {
	Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Cost is a rough work estimate used by the optimizer's strategy rules.
type Cost struct {
	FLOPs int64
}

// Coster is the cost-model capability required by the optimizer.
type Coster interface {
	Cost(inputs []fact.Fact) (Cost, error)
}

// State carries the mutable per-node buffers of a stateful operation during
// pulsed execution (delay lines, running sums).
type State interface {
	Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Stateful is implemented by operations whose pulsed form carries history
// across pulses. A fresh State is allocated per plan, zero-initialized.
type Stateful interface {
	NewState() State
}

// ErrUnsupported reports that an operation lacks a capability a stage needs.
type ErrUnsupported struct {
	Op         string
	Capability string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("operation %s does not support %s", e.Op, e.Capability)
}

// f32 pulls float32 data out of an input, with a uniform error message.
func f32(op string, i int, t *tensor.Tensor) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("%s: missing input %d", op, i)
	}
	if t.DType() != tensor.Float32 {
		return nil, fmt.Errorf("%s: input %d is %s, reference eval supports float32 only", op, i, t.DType())
	}
	return t.AsFloat32(), nil
}
