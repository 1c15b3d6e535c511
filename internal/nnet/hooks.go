package nnet

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
)

// DownsampleOutputs keeps one frame out of every period on the stream axis,
// right before each designated output. Consumers of the pre-output outlet all
// see the downsampled stream. The new node carries no fact; run the analyser
// afterwards.
func DownsampleOutputs(m *graph.InferenceModel, period int) error {
	if period <= 1 {
		return fmt.Errorf("downsample period must be > 1, got %d", period)
	}
	patch := graph.NewPatch()
	for _, out := range m.Outputs() {
		n := m.Node(out.Node)
		if len(n.Inputs) != 1 {
			return fmt.Errorf("output node %q has %d inputs, want 1", n.Name, len(n.Inputs))
		}
		src := n.Inputs[0]
		axis := streamAxis(m.Graph, src)
		tap := patch.Tap(src)
		ds, err := patch.WireNode(n.Name+".downsample", ops.Downsample{Axis: axis, Stride: period}, []graph.OutletID{tap}, fact.Any())
		if err != nil {
			return err
		}
		logrus.Debugf("nnet: downsampling %q by %d", n.Name, period)
		patch.Shunt(src, ds)
	}
	return patch.Apply(m.Graph)
}

// AddContext pads every designated input with left frames before and right
// frames after on the stream axis, replicating the edge frames. Models trained
// with frame context expect it baked into the feed; this injects it instead.
func AddContext(m *graph.InferenceModel, left, right int) error {
	if left < 0 || right < 0 {
		return fmt.Errorf("context must be non-negative, got left=%d right=%d", left, right)
	}
	if left == 0 && right == 0 {
		return nil
	}
	patch := graph.NewPatch()
	for _, in := range m.Inputs() {
		n := m.Node(in.Node)
		axis := streamAxis(m.Graph, in)
		tap := patch.Tap(in)
		pad, err := patch.WireNode(n.Name+".context", ops.Pad{Axis: axis, Before: left, After: right, Mode: ops.PadEdge}, []graph.OutletID{tap}, fact.Any())
		if err != nil {
			return err
		}
		logrus.Debugf("nnet: adding context %d/%d to %q", left, right, n.Name)
		patch.Shunt(in, pad)
	}
	return patch.Apply(m.Graph)
}

func streamAxis(g *graph.Graph, o graph.OutletID) int {
	f, err := g.OutletFact(o)
	if err != nil || f.Shape == nil {
		return 0
	}
	if axis := f.Shape.StreamAxis(); axis >= 0 {
		return axis
	}
	return 0
}
