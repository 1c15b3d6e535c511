// Package incorporate folds framework-specific decomposed idioms into single
// canonical operations, before the graph commits to full typing.
//
// The catalogue is applied once, in a single forward traversal. It does not
// chase a fixed point; declutter owns iterative closure.
package incorporate

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
)

// Rule inspects one node and either returns a patch replacing the matched
// subgraph with its canonical form, or nil when the node does not match.
type Rule func(m *graph.InferenceModel, n *graph.Node) (*graph.Patch, error)

// Catalogue is the fixed rule set, in application order.
func Catalogue() []Rule {
	return []Rule{matMulBiasToAffine, matMulToAffine, scaleShift}
}

// Incorporate applies the catalogue over the model in one forward pass.
// Unmatched nodes pass through unchanged.
func Incorporate(m *graph.InferenceModel) (*graph.InferenceModel, error) {
	order, err := m.EvalOrder()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i, id := range order {
		names[i] = m.Node(id).Name
	}
	rules := Catalogue()
	for _, name := range names {
		node, err := m.NodeByName(name)
		if err != nil {
			continue // consumed by an earlier rule
		}
		for _, rule := range rules {
			patch, err := rule(m, node)
			if err != nil {
				return nil, fmt.Errorf("incorporating at %q: %w", name, err)
			}
			if patch == nil {
				continue
			}
			logrus.Debugf("incorporate: rewriting %q", name)
			if err := patch.Apply(m.Graph); err != nil {
				return nil, fmt.Errorf("incorporating at %q: %w", name, err)
			}
			break
		}
	}
	return m, nil
}

// constValue returns the constant behind an outlet, or nil.
func constValue(m *graph.InferenceModel, o graph.OutletID) *ops.Const {
	n := m.Node(o.Node)
	if c, ok := n.Op.(ops.Const); ok {
		return &c
	}
	return nil
}

// soleConsumer reports whether the outlet feeds exactly one inlet.
func soleConsumer(m *graph.InferenceModel, o graph.OutletID) bool {
	return len(m.Node(o.Node).Outputs[o.Slot].Successors) == 1
}

// matMulBiasToAffine folds MatMul(x, W) + Add(., b) with constant W and b
// into one Affine node, the canonical form of the affine idiom.
func matMulBiasToAffine(m *graph.InferenceModel, n *graph.Node) (*graph.Patch, error) {
	bin, ok := n.Op.(ops.Binary)
	if !ok || bin.Kind != ops.Add || len(n.Inputs) != 2 {
		return nil, nil
	}
	for i := 0; i < 2; i++ {
		mmOutlet, biasOutlet := n.Inputs[i], n.Inputs[1-i]
		mmNode := m.Node(mmOutlet.Node)
		if _, isMM := mmNode.Op.(ops.MatMul); !isMM || len(mmNode.Inputs) != 2 {
			continue
		}
		w := constValue(m, mmNode.Inputs[1])
		b := constValue(m, biasOutlet)
		if w == nil || b == nil || len(w.Value.Shape()) != 2 || len(b.Value.Shape()) != 1 {
			continue
		}
		if !soleConsumer(m, mmOutlet) {
			continue
		}

		p := graph.NewPatch()
		x := p.Tap(mmNode.Inputs[0])
		outFact, err := m.OutletFact(graph.OutletID{Node: n.ID})
		if err != nil {
			return nil, err
		}
		repl, err := p.WireNode(n.Name, ops.Affine{W: w.Value, B: b.Value}, []graph.OutletID{x}, outFact.Clone())
		if err != nil {
			return nil, err
		}
		p.Shunt(graph.OutletID{Node: n.ID}, repl)
		p.Delete(n.ID)
		p.Delete(mmNode.ID)
		if soleConsumer(m, mmNode.Inputs[1]) {
			p.Delete(mmNode.Inputs[1].Node)
		}
		if soleConsumer(m, biasOutlet) {
			p.Delete(biasOutlet.Node)
		}
		return p, nil
	}
	return nil, nil
}

// matMulToAffine folds a bare MatMul with constant right operand into a
// bias-less Affine, unless a bias Add will pick it up first.
func matMulToAffine(m *graph.InferenceModel, n *graph.Node) (*graph.Patch, error) {
	if _, ok := n.Op.(ops.MatMul); !ok || len(n.Inputs) != 2 {
		return nil, nil
	}
	w := constValue(m, n.Inputs[1])
	if w == nil || len(w.Value.Shape()) != 2 {
		return nil, nil
	}
	// Leave the MatMul+Add idiom for matMulBiasToAffine.
	succs := n.Outputs[0].Successors
	if len(succs) == 1 {
		consumer := m.Node(succs[0].Node)
		if bin, ok := consumer.Op.(ops.Binary); ok && bin.Kind == ops.Add && len(consumer.Inputs) == 2 {
			other := consumer.Inputs[1-succs[0].Slot]
			if c := constValue(m, other); c != nil && len(c.Value.Shape()) == 1 {
				return nil, nil
			}
		}
	}

	p := graph.NewPatch()
	x := p.Tap(n.Inputs[0])
	outFact, err := m.OutletFact(graph.OutletID{Node: n.ID})
	if err != nil {
		return nil, err
	}
	repl, err := p.WireNode(n.Name, ops.Affine{W: w.Value}, []graph.OutletID{x}, outFact.Clone())
	if err != nil {
		return nil, err
	}
	p.Shunt(graph.OutletID{Node: n.ID}, repl)
	p.Delete(n.ID)
	if soleConsumer(m, n.Inputs[1]) {
		p.Delete(n.Inputs[1].Node)
	}
	return p, nil
}

// scaleShift folds Mul(x, c) + Add(., c') with constant vectors into one
// elementwise ScaleShift.
func scaleShift(m *graph.InferenceModel, n *graph.Node) (*graph.Patch, error) {
	bin, ok := n.Op.(ops.Binary)
	if !ok || bin.Kind != ops.Add || len(n.Inputs) != 2 {
		return nil, nil
	}
	for i := 0; i < 2; i++ {
		mulOutlet, shiftOutlet := n.Inputs[i], n.Inputs[1-i]
		mulNode := m.Node(mulOutlet.Node)
		mulOp, isMul := mulNode.Op.(ops.Binary)
		if !isMul || mulOp.Kind != ops.Mul || len(mulNode.Inputs) != 2 {
			continue
		}
		scale := constValue(m, mulNode.Inputs[1])
		shift := constValue(m, shiftOutlet)
		if scale == nil || shift == nil {
			continue
		}
		if !soleConsumer(m, mulOutlet) {
			continue
		}

		p := graph.NewPatch()
		x := p.Tap(mulNode.Inputs[0])
		outFact, err := m.OutletFact(graph.OutletID{Node: n.ID})
		if err != nil {
			return nil, err
		}
		repl, err := p.WireNode(n.Name, ops.ScaleShift{Scale: scale.Value, Shift: shift.Value}, []graph.OutletID{x}, outFact.Clone())
		if err != nil {
			return nil, err
		}
		p.Shunt(graph.OutletID{Node: n.ID}, repl)
		p.Delete(n.ID)
		p.Delete(mulNode.ID)
		if soleConsumer(m, mulNode.Inputs[1]) {
			p.Delete(mulNode.Inputs[1].Node)
		}
		if soleConsumer(m, shiftOutlet) {
			p.Delete(shiftOutlet.Node)
		}
		return p, nil
	}
	return nil, nil
}
