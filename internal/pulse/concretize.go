package pulse

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/analyser"
	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/graph"
)

// ConcretizeStreamDim substitutes a concrete length for the symbolic
// streaming dimension everywhere it appears in facts, then re-runs shape
// propagation over the whole graph. The caller is expected to declutter
// afterwards: expressions over the stream length become constants.
func ConcretizeStreamDim(m *graph.TypedModel, value int) (*graph.TypedModel, error) {
	if value <= 0 {
		return nil, fmt.Errorf("stream dimension must be positive, got %d", value)
	}
	for _, n := range m.Nodes() {
		for slot := range n.Outputs {
			f := &n.Outputs[slot].Fact
			if f.Shape == nil || f.Shape.IsConcrete() {
				continue
			}
			shape := make(dim.Shape, len(f.Shape))
			for i, d := range f.Shape {
				v := d.Concretize(value)
				if v <= 0 {
					return nil, fmt.Errorf("axis %d of %q concretizes to %d with stream=%d", i, n.Name, v, value)
				}
				shape[i] = dim.Const(v)
			}
			f.Shape = shape
		}
	}
	// Propagation over the now-concrete facts catches derived-shape
	// inconsistencies that the substitution may have exposed.
	if err := analyser.Analyse(&graph.InferenceModel{Graph: m.Graph}, true); err != nil {
		return nil, fmt.Errorf("re-propagating after stream concretization: %w", err)
	}
	return m, nil
}
