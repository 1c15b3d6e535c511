package incorporate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijianhackthon/tract/internal/analyser"
	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/incorporate"
	"github.com/lijianhackthon/tract/internal/ops"
	"github.com/lijianhackthon/tract/internal/tensor"
)

func f32(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	v, err := tensor.FromFloat32(data, tensor.Shape(shape))
	require.NoError(t, err)
	return v
}

func source(t *testing.T, m *graph.InferenceModel, name string, f fact.Fact) graph.OutletID {
	t.Helper()
	id, err := m.AddNode(name, ops.Source{}, 1)
	require.NoError(t, err)
	o := graph.OutletID{Node: id}
	require.NoError(t, m.SetOutletFact(o, f))
	return o
}

func constant(t *testing.T, m *graph.InferenceModel, name string, v *tensor.Tensor) graph.OutletID {
	t.Helper()
	id, err := m.AddNode(name, ops.Const{Value: v}, 1)
	require.NoError(t, err)
	o := graph.OutletID{Node: id}
	require.NoError(t, m.SetOutletFact(o, fact.Of(v)))
	return o
}

func wire(t *testing.T, m *graph.InferenceModel, name string, op ops.Op, inputs ...graph.OutletID) graph.OutletID {
	t.Helper()
	id, err := m.AddNode(name, op, 1)
	require.NoError(t, err)
	for slot, in := range inputs {
		require.NoError(t, m.AddEdge(in, graph.InletID{Node: id, Slot: slot}))
	}
	return graph.OutletID{Node: id}
}

// affineIdiom builds input -> MatMul(input, W) -> Add(., b) -> output.
func affineIdiom(t *testing.T) *graph.InferenceModel {
	t.Helper()
	m := graph.NewInference()
	in := source(t, m, "input", fact.Typed(tensor.Float32, dim.Shape{dim.Stream(), dim.Const(3)}))
	w := constant(t, m, "w", f32(t, []float32{1, 2, 3, 4, 5, 6}, 3, 2))
	b := constant(t, m, "b", f32(t, []float32{10, 20}, 2))
	mm := wire(t, m, "mm", ops.MatMul{}, in, w)
	add := wire(t, m, "bias", ops.Binary{Kind: ops.Add}, mm, b)
	out := wire(t, m, "output", ops.Identity{}, add)
	require.NoError(t, m.SetInputs(in))
	require.NoError(t, m.SetOutputs(out))
	require.NoError(t, analyser.Analyse(m, true))
	return m
}

func TestIncorporate_MatMulBiasToAffine(t *testing.T) {
	m := affineIdiom(t)
	m, err := incorporate.Incorporate(m)
	require.NoError(t, err)
	require.NoError(t, m.Check())

	// The fused node takes the bias Add's name; the idiom's parts are gone.
	n, err := m.NodeByName("bias")
	require.NoError(t, err)
	affine, ok := n.Op.(ops.Affine)
	require.True(t, ok, "bias should now be an Affine, got %T", n.Op)
	require.NotNil(t, affine.B)
	assert.Equal(t, []float32{10, 20}, affine.B.AsFloat32())

	for _, gone := range []string{"mm", "w", "b"} {
		_, err := m.NodeByName(gone)
		assert.Error(t, err, "node %q should be consumed by the fusion", gone)
	}
}

func TestIncorporate_PreservesOutputFact(t *testing.T) {
	m := affineIdiom(t)
	before, err := m.OutletFact(graph.OutletID{Node: mustNode(t, m, "bias").ID})
	require.NoError(t, err)

	m, err = incorporate.Incorporate(m)
	require.NoError(t, err)
	after, err := m.OutletFact(graph.OutletID{Node: mustNode(t, m, "bias").ID})
	require.NoError(t, err)
	assert.True(t, before.Shape.Equal(after.Shape))
}

func mustNode(t *testing.T, m *graph.InferenceModel, name string) *graph.Node {
	t.Helper()
	n, err := m.NodeByName(name)
	require.NoError(t, err)
	return n
}

func TestIncorporate_BareMatMulToAffine(t *testing.T) {
	m := graph.NewInference()
	in := source(t, m, "input", fact.Typed(tensor.Float32, dim.Shape{dim.Stream(), dim.Const(2)}))
	w := constant(t, m, "w", f32(t, []float32{1, 0, 0, 1}, 2, 2))
	mm := wire(t, m, "mm", ops.MatMul{}, in, w)
	require.NoError(t, m.SetInputs(in))
	require.NoError(t, m.SetOutputs(mm))
	require.NoError(t, analyser.Analyse(m, true))

	m, err := incorporate.Incorporate(m)
	require.NoError(t, err)

	n := mustNode(t, m, "mm")
	affine, ok := n.Op.(ops.Affine)
	require.True(t, ok, "mm should now be an Affine, got %T", n.Op)
	assert.Nil(t, affine.B, "bare MatMul folds without a bias")
}

func TestIncorporate_ScaleShift(t *testing.T) {
	m := graph.NewInference()
	in := source(t, m, "input", fact.Typed(tensor.Float32, dim.Shape{dim.Stream(), dim.Const(2)}))
	scale := constant(t, m, "scale", f32(t, []float32{2, 3}, 2))
	shift := constant(t, m, "shift", f32(t, []float32{1, 1}, 2))
	mul := wire(t, m, "mul", ops.Binary{Kind: ops.Mul}, in, scale)
	add := wire(t, m, "norm", ops.Binary{Kind: ops.Add}, mul, shift)
	require.NoError(t, m.SetInputs(in))
	require.NoError(t, m.SetOutputs(add))
	require.NoError(t, analyser.Analyse(m, true))

	m, err := incorporate.Incorporate(m)
	require.NoError(t, err)

	n := mustNode(t, m, "norm")
	_, ok := n.Op.(ops.ScaleShift)
	require.True(t, ok, "norm should now be a ScaleShift, got %T", n.Op)
	_, err = m.NodeByName("mul")
	assert.Error(t, err, "the Mul half of the idiom should be consumed")
}

func TestIncorporate_SharedMatMulIsLeftAlone(t *testing.T) {
	// The MatMul feeds two consumers; fusing it into one of them would
	// change the other's input.
	m := graph.NewInference()
	in := source(t, m, "input", fact.Typed(tensor.Float32, dim.Shape{dim.Stream(), dim.Const(2)}))
	w := constant(t, m, "w", f32(t, []float32{1, 0, 0, 1}, 2, 2))
	b := constant(t, m, "b", f32(t, []float32{1, 1}, 2))
	mm := wire(t, m, "mm", ops.MatMul{}, in, w)
	add := wire(t, m, "bias", ops.Binary{Kind: ops.Add}, mm, b)
	other := wire(t, m, "other", ops.Delay{D: 1}, mm)
	require.NoError(t, m.SetInputs(in))
	require.NoError(t, m.SetOutputs(add, other))
	require.NoError(t, analyser.Analyse(m, true))

	m, err := incorporate.Incorporate(m)
	require.NoError(t, err)

	n := mustNode(t, m, "mm")
	// The bias fusion must not fire; the bare-weight fusion still may,
	// since it only rewires mm's own consumers.
	switch n.Op.(type) {
	case ops.MatMul, ops.Affine:
	default:
		t.Fatalf("mm became %T", n.Op)
	}
	biasNode := mustNode(t, m, "bias")
	_, isBin := biasNode.Op.(ops.Binary)
	assert.True(t, isBin, "bias must stay a plain Add, got %T", biasNode.Op)
}
