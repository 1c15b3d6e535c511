// Package declutter rewrites a fully-typed graph into its canonical, minimal
// form: constant folding, identity elision, neutral-element elision, dead
// branch pruning.
//
// Rules are scanned in node-id order with a fixed catalogue order and the
// first match is applied through a Patch, until a full pass fires nothing.
// The procedure is deterministic and idempotent.
package declutter

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// Rule inspects one node of a typed model and returns a simplifying patch,
// or nil when it does not apply. "No rule matched" is the expected benign
// outcome, never an error.
type Rule struct {
	Name  string
	Apply func(m *graph.TypedModel, n *graph.Node) (*graph.Patch, error)
}

// Catalogue is the fixed rule set, in application order. Dead-branch
// pruning is not a rule: it runs as a bulk step between passes, delegated to
// the graph's own liveness sweep.
func Catalogue() []Rule {
	return []Rule{
		{Name: "identity-elision", Apply: identityElision},
		{Name: "const-folding", Apply: constFold},
		{Name: "neutral-elision", Apply: neutralElision},
	}
}

// Declutter simplifies the model to a fixed point. Each quiet pass is
// followed by dead-branch elimination; pruning can expose no new rule
// matches only by removing nodes, so the loop continues until both the rules
// and the sweep leave the graph alone.
func Declutter(m *graph.TypedModel) (*graph.TypedModel, error) {
	rules := Catalogue()
	for {
		fired, err := onePass(m, rules)
		if err != nil {
			return nil, err
		}
		if fired {
			continue
		}
		before := m.NodeCount()
		if err := m.EliminateDeadBranches(); err != nil {
			return nil, err
		}
		if m.NodeCount() == before {
			return m, nil
		}
		logrus.Debugf("declutter: pruned %d dead nodes", before-m.NodeCount())
	}
}

func onePass(m *graph.TypedModel, rules []Rule) (bool, error) {
	for _, n := range m.Nodes() {
		for _, rule := range rules {
			patch, err := rule.Apply(m, n)
			if err != nil {
				return false, fmt.Errorf("declutter rule %s at %q: %w", rule.Name, n.Name, err)
			}
			if patch == nil {
				continue
			}
			logrus.Debugf("declutter: %s fires at %q", rule.Name, n.Name)
			if err := patch.Apply(m.Graph); err != nil {
				return false, fmt.Errorf("declutter rule %s at %q: %w", rule.Name, n.Name, err)
			}
			return true, nil
		}
	}
	return false, nil
}

// designated reports whether any outlet of the node is a designated input or
// output. Rules never remove designated nodes: the externally observable
// signature is named after them.
func designated(m *graph.TypedModel, id int) bool {
	for _, o := range m.Inputs() {
		if o.Node == id {
			return true
		}
	}
	for _, o := range m.Outputs() {
		if o.Node == id {
			return true
		}
	}
	return false
}

// identityElision drops Identity nodes and zero Delays, wiring their
// consumers straight to the input.
func identityElision(m *graph.TypedModel, n *graph.Node) (*graph.Patch, error) {
	switch op := n.Op.(type) {
	case ops.Identity:
	case ops.Delay:
		if op.D != 0 {
			return nil, nil
		}
	default:
		return nil, nil
	}
	if designated(m, n.ID) || len(n.Inputs) != 1 {
		return nil, nil
	}
	p := graph.NewPatch()
	in := p.Tap(n.Inputs[0])
	p.Shunt(graph.OutletID{Node: n.ID}, in)
	p.Delete(n.ID)
	return p, nil
}

// constFold evaluates any node whose input facts all carry values, replacing
// it with a Const of the result.
func constFold(m *graph.TypedModel, n *graph.Node) (*graph.Patch, error) {
	if _, isConst := n.Op.(ops.Const); isConst || len(n.Inputs) == 0 {
		return nil, nil
	}
	evaler, ok := n.Op.(ops.Evaler)
	if !ok || len(n.Outputs) != 1 {
		return nil, nil
	}
	values := make([]*tensor.Tensor, len(n.Inputs))
	for slot, in := range n.Inputs {
		f, err := m.OutletFact(in)
		if err != nil {
			return nil, err
		}
		if f.Value == nil {
			return nil, nil
		}
		values[slot] = f.Value
	}
	outs, err := evaler.Eval(values)
	if err != nil {
		return nil, fmt.Errorf("folding %s: %w", n.Op.Name(), err)
	}
	p := graph.NewPatch()
	repl, err := p.WireNode(n.Name, ops.Const{Value: outs[0]}, nil, fact.Of(outs[0]))
	if err != nil {
		return nil, err
	}
	p.Shunt(graph.OutletID{Node: n.ID}, repl)
	p.Delete(n.ID)
	return p, nil
}

// neutralElision removes Add of an all-zero constant and Mul by an all-one
// constant when the constant broadcasts without changing the shape.
func neutralElision(m *graph.TypedModel, n *graph.Node) (*graph.Patch, error) {
	bin, ok := n.Op.(ops.Binary)
	if !ok || len(n.Inputs) != 2 || designated(m, n.ID) {
		return nil, nil
	}
	var neutral float32
	switch bin.Kind {
	case ops.Add:
		neutral = 0
	case ops.Mul:
		neutral = 1
	default:
		return nil, nil
	}
	for i := 0; i < 2; i++ {
		f, err := m.OutletFact(n.Inputs[i])
		if err != nil {
			return nil, err
		}
		if f.Value == nil || f.Value.DType() != tensor.Float32 || !allEqual(f.Value.AsFloat32(), neutral) {
			continue
		}
		other, err := m.OutletFact(n.Inputs[1-i])
		if err != nil {
			return nil, err
		}
		out, err := m.OutletFact(graph.OutletID{Node: n.ID})
		if err != nil {
			return nil, err
		}
		// Dropping the op must not drop a broadcast.
		if other.Shape == nil || out.Shape == nil || !other.Shape.Equal(out.Shape) {
			continue
		}
		p := graph.NewPatch()
		keep := p.Tap(n.Inputs[1-i])
		p.Shunt(graph.OutletID{Node: n.ID}, keep)
		p.Delete(n.ID)
		return p, nil
	}
	return nil, nil
}

func allEqual(data []float32, v float32) bool {
	for _, d := range data {
		if d != v {
			return false
		}
	}
	return true
}
