// Package pulse turns a typed graph that processes whole streams into one
// that processes fixed-size windows of the streaming axis, and provides the
// related stream-dimension concretizer.
//
// Every operation kept by the transformer is causal along the streaming
// axis: its output at frame t depends only on input frames <= t, with any
// history carried in per-node state buffers (zero-initialized). That is what
// makes pulse-by-pulse execution reproduce the whole-stream output exactly,
// without latency bookkeeping.
package pulse

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
)

// Fact annotates one pulsed outlet: which axis streams, the pulse length,
// and the number of leading garbage frames (always zero with a causal
// operation set; the field documents the contract).
type Fact struct {
	Axis  int
	Len   int
	Delay int
}

// Model is a pulsed graph: facts are fully concrete, with the streaming axis
// of every streaming outlet bound to the pulse length.
type Model struct {
	*graph.Graph
	Pulse int
	Facts map[graph.OutletID]Fact
}

// IntoTyped consumes the pulsed model and returns the corresponding typed
// model. Pulsed facts are already concrete, so this is a kind change; a
// declutter pass afterwards removes scaffolding that degenerated to no-ops.
func (m *Model) IntoTyped() (*graph.TypedModel, error) {
	for _, n := range m.Nodes() {
		for slot := range n.Outputs {
			if !n.Outputs[slot].Fact.IsConcrete() {
				return nil, &graph.ErrUnresolved{
					Outlet: graph.OutletID{Node: n.ID, Slot: slot},
					Name:   n.Name,
					Detail: "pulsed fact still symbolic",
				}
			}
		}
	}
	g := m.Graph
	m.Graph = nil
	return &graph.TypedModel{Graph: g}, nil
}

// NewPulsed consumes a typed model with a symbolic streaming dimension and
// produces the pulsed model for the given pulse length.
func NewPulsed(m *graph.TypedModel, pulseLen int) (*Model, error) {
	if pulseLen <= 0 {
		return nil, fmt.Errorf("pulse length must be positive, got %d", pulseLen)
	}
	out := &Model{Graph: m.Graph, Pulse: pulseLen, Facts: make(map[graph.OutletID]Fact)}
	m.Graph = nil

	streaming := false
	for _, n := range out.Nodes() {
		if err := checkPulsable(n); err != nil {
			return nil, err
		}
		for slot := range n.Outputs {
			f := &n.Outputs[slot].Fact
			axis := f.Shape.StreamAxis()
			if axis < 0 {
				continue
			}
			streaming = true
			if f.Shape[axis] != dim.Stream() {
				return nil, fmt.Errorf("outlet %d/%d of %q carries derived stream length %s, not pulsable",
					n.ID, slot, n.Name, f.Shape[axis])
			}
			shape := f.Shape.Clone()
			shape[axis] = dim.Const(pulseLen)
			f.Shape = shape
			out.Facts[graph.OutletID{Node: n.ID, Slot: slot}] = Fact{Axis: axis, Len: pulseLen}
		}
	}
	if !streaming {
		return nil, fmt.Errorf("model has no streaming dimension to pulse")
	}
	logrus.Debugf("pulse: %d streaming outlets bound to length %d", len(out.Facts), pulseLen)
	return out, nil
}

// checkPulsable rejects operations whose whole-stream semantics cannot be
// expressed as a causal per-pulse operation.
func checkPulsable(n *graph.Node) error {
	switch op := n.Op.(type) {
	case ops.Source, ops.Const, ops.Identity, ops.Binary, ops.MatMul,
		ops.Affine, ops.AffinePacked, ops.ScaleShift,
		ops.Conv1D, ops.Delay, ops.CumSum:
		return nil
	case ops.Pad:
		if streamFactAxis(n) == op.Axis {
			return &ops.ErrUnsupported{Op: fmt.Sprintf("%s (node %q)", n.Op.Name(), n.Name), Capability: "pulsed streaming-axis padding"}
		}
		return nil
	case ops.Downsample:
		if streamFactAxis(n) == op.Axis {
			return &ops.ErrUnsupported{Op: fmt.Sprintf("%s (node %q)", n.Op.Name(), n.Name), Capability: "pulsed streaming-axis downsampling"}
		}
		return nil
	default:
		return &ops.ErrUnsupported{Op: fmt.Sprintf("%s (node %q)", n.Op.Name(), n.Name), Capability: "pulse"}
	}
}

// streamFactAxis returns the streaming axis of the node's first input fact
// holder, or -1. Inspecting the output is enough for the shape-preserving
// operation set.
func streamFactAxis(n *graph.Node) int {
	for slot := range n.Outputs {
		if axis := n.Outputs[slot].Fact.Shape.StreamAxis(); axis >= 0 {
			return axis
		}
	}
	return -1
}
