// Package plan executes a finalized graph with the reference evaluators.
// It exists for constant verification and tests; heavy kernels are not this
// project's business.
package plan

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
	"github.com/lijianhackthon/tract/internal/pulse"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// Plan is a ready-to-run evaluation order over a graph. A plan built from a
// pulsed model keeps per-node state across Run calls: feed it consecutive
// pulses.
type Plan struct {
	g      *graph.Graph
	order  []int
	states map[int]ops.State
}

// New builds a stateless plan over a typed model's graph.
func New(m *graph.TypedModel) (*Plan, error) {
	order, err := m.EvalOrder()
	if err != nil {
		return nil, err
	}
	return &Plan{g: m.Graph, order: order}, nil
}

// NewPulsed builds a stateful plan over a pulsed model. Stateful operations
// get fresh zero-initialized state; Run calls advance it pulse by pulse.
func NewPulsed(m *pulse.Model) (*Plan, error) {
	order, err := m.EvalOrder()
	if err != nil {
		return nil, err
	}
	states := make(map[int]ops.State)
	for _, id := range order {
		if s, ok := m.Node(id).Op.(ops.Stateful); ok {
			states[id] = s.NewState()
		}
	}
	return &Plan{g: m.Graph, order: order, states: states}, nil
}

// Run evaluates the graph on the given inputs, keyed by designated input
// node name, and returns the designated outputs keyed by node name.
func (p *Plan) Run(inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	values := make(map[graph.OutletID]*tensor.Tensor)
	for _, o := range p.g.Inputs() {
		n := p.g.Node(o.Node)
		t, ok := inputs[n.Name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", n.Name)
		}
		values[o] = t
	}

	for _, id := range p.order {
		n := p.g.Node(id)
		if _, isSource := n.Op.(ops.Source); isSource {
			if _, ok := values[graph.OutletID{Node: id}]; !ok {
				return nil, fmt.Errorf("source %q is not a designated input", n.Name)
			}
			continue
		}
		ins := make([]*tensor.Tensor, len(n.Inputs))
		for slot, in := range n.Inputs {
			t, ok := values[in]
			if !ok {
				return nil, fmt.Errorf("node %q: input %d not computed", n.Name, slot)
			}
			ins[slot] = t
		}
		var outs []*tensor.Tensor
		var err error
		if state, ok := p.states[id]; ok {
			outs, err = state.Eval(ins)
		} else if evaler, ok := n.Op.(ops.Evaler); ok {
			outs, err = evaler.Eval(ins)
		} else {
			return nil, &ops.ErrUnsupported{Op: fmt.Sprintf("%s (node %q)", n.Op.Name(), n.Name), Capability: "eval"}
		}
		if err != nil {
			return nil, fmt.Errorf("evaluating %q: %w", n.Name, err)
		}
		for slot, t := range outs {
			values[graph.OutletID{Node: id, Slot: slot}] = t
		}
	}

	result := make(map[string]*tensor.Tensor, len(p.g.Outputs()))
	for _, o := range p.g.Outputs() {
		t, ok := values[o]
		if !ok {
			return nil, fmt.Errorf("output %s was not computed", o)
		}
		result[p.g.Node(o.Node).Name] = t
	}
	return result, nil
}
