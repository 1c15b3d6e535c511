package optimize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijianhackthon/tract/internal/analyser"
	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
	"github.com/lijianhackthon/tract/internal/optimize"
	"github.com/lijianhackthon/tract/internal/plan"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// affineModel builds input[rows,k] -> Affine(W[k,n]) -> output, typed.
func affineModel(t *testing.T, rows, k, n int) *graph.TypedModel {
	t.Helper()
	m := graph.NewInference()
	in, err := m.AddNode("input", ops.Source{}, 1)
	require.NoError(t, err)
	inO := graph.OutletID{Node: in}
	require.NoError(t, m.SetOutletFact(inO, fact.Typed(tensor.Float32, dim.Shape{dim.Const(rows), dim.Const(k)})))

	w, err := tensor.FromFloat32(make([]float32, k*n), tensor.Shape{k, n})
	require.NoError(t, err)
	for i := range w.AsFloat32() {
		w.AsFloat32()[i] = float32(i%5) - 2
	}
	b, err := tensor.FromFloat32(make([]float32, n), tensor.Shape{n})
	require.NoError(t, err)

	aff, err := m.AddNode("dense", ops.Affine{W: w, B: b}, 1)
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(inO, graph.InletID{Node: aff}))
	out, err := m.AddNode("output", ops.Identity{}, 1)
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(graph.OutletID{Node: aff}, graph.InletID{Node: out}))
	require.NoError(t, m.SetInputs(inO))
	require.NoError(t, m.SetOutputs(graph.OutletID{Node: out}))
	require.NoError(t, analyser.Analyse(m, true))
	tm, err := m.IntoTyped()
	require.NoError(t, err)
	return tm
}

func TestOptimize_PacksLargeAffine(t *testing.T) {
	tm, err := optimize.Optimize(affineModel(t, 16, 8, 4))
	require.NoError(t, err)

	n, err := tm.NodeByName("dense")
	require.NoError(t, err)
	_, packed := n.Op.(ops.AffinePacked)
	assert.True(t, packed, "large affine should be packed, got %T", n.Op)
}

func TestOptimize_LeavesSmallAffine(t *testing.T) {
	tm, err := optimize.Optimize(affineModel(t, 2, 2, 2))
	require.NoError(t, err)

	n, err := tm.NodeByName("dense")
	require.NoError(t, err)
	_, plain := n.Op.(ops.Affine)
	assert.True(t, plain, "small affine should stay plain, got %T", n.Op)
}

func TestOptimize_PreservesSignature(t *testing.T) {
	tm := affineModel(t, 16, 8, 4)
	insBefore, outsBefore := tm.Signature()

	tm, err := optimize.Optimize(tm)
	require.NoError(t, err)
	insAfter, outsAfter := tm.Signature()

	require.Len(t, insAfter, len(insBefore))
	require.Len(t, outsAfter, len(outsBefore))
	assert.Equal(t, insBefore[0].Name, insAfter[0].Name)
	assert.Equal(t, outsBefore[0].Name, outsAfter[0].Name)
	assert.True(t, outsBefore[0].Fact.Shape.Equal(outsAfter[0].Fact.Shape))
}

func TestOptimize_PreservesResults(t *testing.T) {
	const rows, k, n = 16, 8, 4
	x, err := tensor.FromFloat32(make([]float32, rows*k), tensor.Shape{rows, k})
	require.NoError(t, err)
	for i := range x.AsFloat32() {
		x.AsFloat32()[i] = float32(i%11) * 0.5
	}

	run := func(tm *graph.TypedModel) []float32 {
		p, err := plan.New(tm)
		require.NoError(t, err)
		outs, err := p.Run(map[string]*tensor.Tensor{"input": x})
		require.NoError(t, err)
		return outs["output"].AsFloat32()
	}

	want := run(affineModel(t, rows, k, n))
	opt, err := optimize.Optimize(affineModel(t, rows, k, n))
	require.NoError(t, err)
	got := run(opt)
	assert.InDeltaSlice(t, want, got, 1e-5)
}

func TestOptimize_SymbolicInputIsLeftAlone(t *testing.T) {
	m := graph.NewInference()
	in, err := m.AddNode("input", ops.Source{}, 1)
	require.NoError(t, err)
	inO := graph.OutletID{Node: in}
	require.NoError(t, m.SetOutletFact(inO, fact.Typed(tensor.Float32, dim.Shape{dim.Stream(), dim.Const(64)})))
	w, err := tensor.FromFloat32(make([]float32, 64*64), tensor.Shape{64, 64})
	require.NoError(t, err)
	aff, err := m.AddNode("dense", ops.Affine{W: w}, 1)
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(inO, graph.InletID{Node: aff}))
	require.NoError(t, m.SetInputs(inO))
	require.NoError(t, m.SetOutputs(graph.OutletID{Node: aff}))
	require.NoError(t, analyser.Analyse(m, true))
	tm, err := m.IntoTyped()
	require.NoError(t, err)

	tm, err = optimize.Optimize(tm)
	require.NoError(t, err)
	n, err := tm.NodeByName("dense")
	require.NoError(t, err)
	_, plain := n.Op.(ops.Affine)
	assert.True(t, plain, "packing needs a concrete pulse size, got %T", n.Op)
}
