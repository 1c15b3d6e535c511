package ops

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// BinKind selects the arithmetic of a Binary operation.
type BinKind int

const (
	Add BinKind = iota
	Sub
	Mul
	Div
)

func (k BinKind) String() string {
	switch k {
	case Add:
		return "Add"
	case Sub:
		return "Sub"
	case Mul:
		return "Mul"
	case Div:
		return "Div"
	default:
		return "Bin?"
	}
}

func (k BinKind) apply(a, b float32) float32 {
	switch k {
	case Add:
		return a + b
	case Sub:
		return a - b
	case Mul:
		return a * b
	default:
		return a / b
	}
}

// Binary is an elementwise binary operation with NumPy-style broadcasting.
// Two inputs, one output.
type Binary struct {
	Kind BinKind
}

func (b Binary) Name() string { return b.Kind.String() }

func (b Binary) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	a, c, out := inputs[0].Clone(), inputs[1].Clone(), outputs[0].Clone()

	// Element type flows freely between all three edges.
	dt := a.DType
	for _, f := range []fact.Fact{c, out} {
		switch {
		case dt == nil:
			dt = f.DType
		case f.DType != nil && *f.DType != *dt:
			return nil, nil, &fact.TypeConflict{Field: "dtype", A: dt.String(), B: f.DType.String()}
		}
	}
	a.DType, c.DType, out.DType = dt, dt, dt

	// Output shape is the broadcast of the input shapes.
	if a.Shape != nil && c.Shape != nil {
		shape, err := dim.Broadcast(a.Shape, c.Shape)
		if err != nil {
			return nil, nil, err
		}
		out.Shape = shape
	}
	return []fact.Fact{a, c}, []fact.Fact{out}, nil
}

func (b Binary) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	av, err := f32(b.Name(), 0, inputs[0])
	if err != nil {
		return nil, err
	}
	bv, err := f32(b.Name(), 1, inputs[1])
	if err != nil {
		return nil, err
	}
	shape, err := tensor.BroadcastShapes(inputs[0].Shape(), inputs[1].Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	out, err := tensor.New(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	ai := newBroadcastIndexer(inputs[0].Shape(), shape)
	bi := newBroadcastIndexer(inputs[1].Shape(), shape)
	for i := range ov {
		ov[i] = b.Kind.apply(av[ai.at(i)], bv[bi.at(i)])
	}
	return []*tensor.Tensor{out}, nil
}

func (b Binary) Cost(inputs []fact.Fact) (Cost, error) {
	n := int64(1)
	if inputs[0].Shape != nil {
		if dims, err := inputs[0].Shape.Ints(); err == nil {
			n = int64(tensor.Shape(dims).NumElements())
		}
	}
	return Cost{FLOPs: n}, nil
}

// broadcastIndexer maps a flat index in the broadcast output shape back to a
// flat index in one input.
type broadcastIndexer struct {
	outStrides []int
	inStrides  []int // 0 on broadcast axes
}

func newBroadcastIndexer(in, out tensor.Shape) broadcastIndexer {
	outStrides := out.ComputeStrides()
	realStrides := in.ComputeStrides()
	inStrides := make([]int, len(out))
	offset := len(out) - len(in)
	for i := range out {
		if i < offset {
			continue
		}
		if in[i-offset] == out[i] {
			inStrides[i] = realStrides[i-offset]
		}
	}
	return broadcastIndexer{outStrides: outStrides, inStrides: inStrides}
}

// at decomposes a flat output index into coordinates and re-linearizes them
// with the input strides (0 on broadcast axes).
func (bi broadcastIndexer) at(flat int) int {
	idx := 0
	rem := flat
	for i, s := range bi.outStrides {
		coord := rem / s
		rem %= s
		idx += coord * bi.inStrides[i]
	}
	return idx
}
