// Package optimize replaces abstract operations with concrete execution
// strategies chosen by shape- and cost-driven rules. It never changes the
// externally observable input/output signature of the graph.
package optimize

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lijianhackthon/tract/internal/declutter"
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
)

// packThreshold is the work size, in FLOPs per pulse of output, above which
// packing an Affine's weights pays for itself.
const packThreshold = 256

// Optimize selects concrete kernels over the typed model, then re-declutters.
func Optimize(m *graph.TypedModel) (*graph.TypedModel, error) {
	insBefore, outsBefore := m.Signature()

	order, err := m.EvalOrder()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i, id := range order {
		names[i] = m.Node(id).Name
	}
	for _, name := range names {
		node, err := m.NodeByName(name)
		if err != nil {
			continue
		}
		if err := optimizeNode(m, node); err != nil {
			return nil, err
		}
	}

	m, err = declutter.Declutter(m)
	if err != nil {
		return nil, err
	}

	insAfter, outsAfter := m.Signature()
	if !sigEqual(insBefore, insAfter) || !sigEqual(outsBefore, outsAfter) {
		return nil, fmt.Errorf("optimizer changed the model signature, this is a bug")
	}
	return m, nil
}

func optimizeNode(m *graph.TypedModel, n *graph.Node) error {
	coster, ok := n.Op.(ops.Coster)
	if !ok {
		return &ops.ErrUnsupported{Op: fmt.Sprintf("%s (node %q)", n.Op.Name(), n.Name), Capability: "cost"}
	}
	affine, isAffine := n.Op.(ops.Affine)
	if !isAffine {
		return nil
	}
	inFact, err := m.OutletFact(n.Inputs[0])
	if err != nil {
		return err
	}
	if inFact.Shape == nil || !inFact.Shape.IsConcrete() {
		return nil
	}
	cost, err := coster.Cost([]fact.Fact{inFact})
	if err != nil {
		return err
	}
	if cost.FLOPs < packThreshold {
		return nil
	}

	logrus.Debugf("optimize: packing affine %q (%d flops)", n.Name, cost.FLOPs)
	outFact, err := m.OutletFact(graph.OutletID{Node: n.ID})
	if err != nil {
		return err
	}
	p := graph.NewPatch()
	in := p.Tap(n.Inputs[0])
	repl, err := p.WireNode(n.Name, ops.PackAffine(affine), []graph.OutletID{in}, outFact.Clone())
	if err != nil {
		return err
	}
	p.Shunt(graph.OutletID{Node: n.ID}, repl)
	p.Delete(n.ID)
	if err := p.Apply(m.Graph); err != nil {
		return fmt.Errorf("packing %q: %w", n.Name, err)
	}
	return nil
}

// sigEqual compares signatures on name, dtype and shape; constant values are
// not part of the external contract.
func sigEqual(a, b []graph.IOSig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
		fa, fb := a[i].Fact, b[i].Fact
		if (fa.DType == nil) != (fb.DType == nil) || (fa.DType != nil && *fa.DType != *fb.DType) {
			return false
		}
		if (fa.Shape == nil) != (fb.Shape == nil) || (fa.Shape != nil && !fa.Shape.Equal(fb.Shape)) {
			return false
		}
	}
	return true
}
