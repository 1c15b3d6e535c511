package ops_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijianhackthon/tract/internal/ops"
	"github.com/lijianhackthon/tract/internal/tensor"
)

func f32(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	v, err := tensor.FromFloat32(data, tensor.Shape(shape))
	require.NoError(t, err)
	return v
}

func eval1(t *testing.T, op ops.Evaler, inputs ...*tensor.Tensor) *tensor.Tensor {
	t.Helper()
	outs, err := op.Eval(inputs)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	return outs[0]
}

func TestBinary_Broadcast(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	row := f32(t, []float32{10, 20, 30}, 3)

	out := eval1(t, ops.Binary{Kind: ops.Add}, x, row)
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, out.AsFloat32())
}

func TestBinary_Div(t *testing.T) {
	x := f32(t, []float32{2, 4, 8}, 3)
	y := f32(t, []float32{2, 2, 2}, 3)
	out := eval1(t, ops.Binary{Kind: ops.Div}, x, y)
	assert.Equal(t, []float32{1, 2, 4}, out.AsFloat32())
}

func TestConv1D_CausalEval(t *testing.T) {
	// y[t] = 1*x[t] + 2*x[t-1], x[t<0] = 0.
	op := ops.Conv1D{Kernel: []float32{1, 2}}
	x := f32(t, []float32{1, 2, 3, 4}, 4, 1)
	out := eval1(t, op, x)
	assert.Equal(t, []float32{1, 4, 7, 10}, out.AsFloat32())
}

func TestConv1D_StateMatchesWholeStream(t *testing.T) {
	op := ops.Conv1D{Kernel: []float32{0.5, 0.25, 0.125}}
	stream := f32(t, []float32{1, 10, 2, 20, 3, 30, 4, 40, 5, 50, 6, 60}, 6, 2)
	whole := eval1(t, op, stream).AsFloat32()

	state := op.NewState()
	var chunked []float32
	data := stream.AsFloat32()
	for i := 0; i < 6; i += 2 {
		pulse := f32(t, data[i*2:(i+2)*2], 2, 2)
		outs, err := state.Eval([]*tensor.Tensor{pulse})
		require.NoError(t, err)
		chunked = append(chunked, outs[0].AsFloat32()...)
	}
	assert.InDeltaSlice(t, whole, chunked, 1e-6)
}

func TestDelay_Eval(t *testing.T) {
	op := ops.Delay{D: 2}
	x := f32(t, []float32{1, 2, 3, 4}, 4, 1)
	out := eval1(t, op, x)
	assert.Equal(t, []float32{0, 0, 1, 2}, out.AsFloat32())
}

func TestDelay_StateMatchesWholeStream(t *testing.T) {
	op := ops.Delay{D: 3}
	stream := f32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, 8, 1)
	whole := eval1(t, op, stream).AsFloat32()

	state := op.NewState()
	var chunked []float32
	data := stream.AsFloat32()
	for i := 0; i < 8; i += 2 {
		outs, err := state.Eval([]*tensor.Tensor{f32(t, data[i:i+2], 2, 1)})
		require.NoError(t, err)
		chunked = append(chunked, outs[0].AsFloat32()...)
	}
	assert.Equal(t, whole, chunked)
}

func TestCumSum_StateMatchesWholeStream(t *testing.T) {
	op := ops.CumSum{}
	stream := f32(t, []float32{1, 2, 3, 4, 5, 6}, 6, 1)
	whole := eval1(t, op, stream).AsFloat32()
	assert.Equal(t, []float32{1, 3, 6, 10, 15, 21}, whole)

	state := op.NewState()
	var chunked []float32
	data := stream.AsFloat32()
	for i := 0; i < 6; i += 3 {
		outs, err := state.Eval([]*tensor.Tensor{f32(t, data[i:i+3], 3, 1)})
		require.NoError(t, err)
		chunked = append(chunked, outs[0].AsFloat32()...)
	}
	assert.Equal(t, whole, chunked)
}

func TestPad_ZeroAndEdge(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4}, 2, 2)

	zero := eval1(t, ops.Pad{Axis: 0, Before: 1, After: 1, Mode: ops.PadZero}, x)
	assert.Equal(t, tensor.Shape{4, 2}, zero.Shape())
	assert.Equal(t, []float32{0, 0, 1, 2, 3, 4, 0, 0}, zero.AsFloat32())

	edge := eval1(t, ops.Pad{Axis: 0, Before: 1, After: 1, Mode: ops.PadEdge}, x)
	assert.Equal(t, []float32{1, 2, 1, 2, 3, 4, 3, 4}, edge.AsFloat32())
}

func TestPad_FeatureAxis(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4}, 2, 2)
	out := eval1(t, ops.Pad{Axis: 1, Before: 0, After: 1, Mode: ops.PadZero}, x)
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{1, 2, 0, 3, 4, 0}, out.AsFloat32())
}

func TestDownsample_Eval(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 5, 2)
	out := eval1(t, ops.Downsample{Axis: 0, Stride: 2}, x)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 5, 6, 9, 10}, out.AsFloat32())
}

func TestAffine_MatchesMatMulPlusBias(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	w := f32(t, []float32{1, 0, 0, 1, 1, 1}, 3, 2)
	b := f32(t, []float32{10, 20}, 2)

	mm := eval1(t, ops.MatMul{}, x, w)
	withBias := eval1(t, ops.Binary{Kind: ops.Add}, mm, b)
	fused := eval1(t, ops.Affine{W: w, B: b}, x)

	assert.Equal(t, withBias.AsFloat32(), fused.AsFloat32())
}

func TestAffinePacked_MatchesAffine(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, 4, 2)
	w := f32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := f32(t, []float32{1, 1, 1}, 3)

	plain := ops.Affine{W: w, B: b}
	packed := ops.PackAffine(plain)

	a := eval1(t, plain, x)
	p := eval1(t, packed, x)
	assert.InDeltaSlice(t, a.AsFloat32(), p.AsFloat32(), 1e-6)
}

func TestScaleShift_Eval(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4}, 2, 2)
	scale := f32(t, []float32{2, 10}, 2)
	shift := f32(t, []float32{1, 0}, 2)

	out := eval1(t, ops.ScaleShift{Scale: scale, Shift: shift}, x)
	assert.Equal(t, []float32{3, 20, 7, 40}, out.AsFloat32())
}

func TestErrUnsupported_Message(t *testing.T) {
	err := &ops.ErrUnsupported{Op: "Frob", Capability: "eval"}
	assert.Contains(t, err.Error(), "Frob")
	assert.Contains(t, err.Error(), "eval")
}
