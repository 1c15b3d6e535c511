package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijianhackthon/tract/internal/analyser"
	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
	"github.com/lijianhackthon/tract/internal/plan"
	"github.com/lijianhackthon/tract/internal/tensor"
)

func model(t *testing.T) *graph.TypedModel {
	t.Helper()
	m := graph.NewInference()
	in, err := m.AddNode("input", ops.Source{}, 1)
	require.NoError(t, err)
	inO := graph.OutletID{Node: in}
	require.NoError(t, m.SetOutletFact(inO, fact.Typed(tensor.Float32, dim.Shape{dim.Const(2), dim.Const(2)})))

	c, err := tensor.FromFloat32([]float32{10, 100}, tensor.Shape{2})
	require.NoError(t, err)
	cid, err := m.AddNode("c", ops.Const{Value: c}, 1)
	require.NoError(t, err)
	require.NoError(t, m.SetOutletFact(graph.OutletID{Node: cid}, fact.Of(c)))

	add, err := m.AddNode("output", ops.Binary{Kind: ops.Add}, 1)
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(inO, graph.InletID{Node: add}))
	require.NoError(t, m.AddEdge(graph.OutletID{Node: cid}, graph.InletID{Node: add, Slot: 1}))
	require.NoError(t, m.SetInputs(inO))
	require.NoError(t, m.SetOutputs(graph.OutletID{Node: add}))
	require.NoError(t, analyser.Analyse(m, true))
	tm, err := m.IntoTyped()
	require.NoError(t, err)
	return tm
}

func TestPlan_Run(t *testing.T) {
	p, err := plan.New(model(t))
	require.NoError(t, err)

	x, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	require.NoError(t, err)
	outs, err := p.Run(map[string]*tensor.Tensor{"input": x})
	require.NoError(t, err)
	require.Contains(t, outs, "output")
	assert.Equal(t, []float32{11, 102, 13, 104}, outs["output"].AsFloat32())
}

func TestPlan_MissingInput(t *testing.T) {
	p, err := plan.New(model(t))
	require.NoError(t, err)

	_, err = p.Run(map[string]*tensor.Tensor{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing input "input"`)
}

func TestPlan_RunTwiceIsStateless(t *testing.T) {
	p, err := plan.New(model(t))
	require.NoError(t, err)
	x, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	require.NoError(t, err)

	first, err := p.Run(map[string]*tensor.Tensor{"input": x})
	require.NoError(t, err)
	second, err := p.Run(map[string]*tensor.Tensor{"input": x})
	require.NoError(t, err)
	assert.Equal(t, first["output"].AsFloat32(), second["output"].AsFloat32())
}
