package ops

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// PadMode selects how Pad fills the added frames.
type PadMode int

const (
	PadZero PadMode = iota
	PadEdge // replicate the nearest frame, kaldi-style context
)

func (m PadMode) String() string {
	if m == PadEdge {
		return "edge"
	}
	return "zero"
}

// Pad extends one axis by Before frames in front and After frames behind.
// The context-injection hook wraps model inputs with edge Pads.
type Pad struct {
	Axis   int
	Before int
	After  int
	Mode   PadMode
}

func (Pad) Name() string { return "Pad" }

func (p Pad) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	in, out := inputs[0].Clone(), outputs[0].Clone()
	dt := in.DType
	if dt == nil {
		dt = out.DType
	} else if out.DType != nil && *out.DType != *dt {
		return nil, nil, &fact.TypeConflict{Field: "dtype", A: dt.String(), B: out.DType.String()}
	}
	in.DType, out.DType = dt, dt

	grow := dim.Const(p.Before + p.After)
	if in.Shape != nil {
		if p.Axis >= len(in.Shape) {
			return nil, nil, fmt.Errorf("Pad: axis %d out of range for %s", p.Axis, in.Shape)
		}
		shape := in.Shape.Clone()
		shape[p.Axis] = shape[p.Axis].Add(grow)
		out.Shape = shape
	} else if out.Shape != nil {
		if p.Axis >= len(out.Shape) {
			return nil, nil, fmt.Errorf("Pad: axis %d out of range for %s", p.Axis, out.Shape)
		}
		shape := out.Shape.Clone()
		shape[p.Axis] = shape[p.Axis].Sub(grow)
		in.Shape = shape
	}
	return []fact.Fact{in}, []fact.Fact{out}, nil
}

func (p Pad) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("Pad", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	in := inputs[0].Shape()
	if p.Axis >= len(in) {
		return nil, fmt.Errorf("Pad: axis %d out of range for %v", p.Axis, in)
	}
	outShape := in.Clone()
	outShape[p.Axis] += p.Before + p.After
	out, err := tensor.New(outShape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	inStrides := in.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	for flat := range ov {
		rem := flat
		src := 0
		inBounds := true
		for axis, s := range outStrides {
			coord := rem / s
			rem %= s
			if axis == p.Axis {
				coord -= p.Before
				if coord < 0 || coord >= in[axis] {
					if p.Mode == PadZero {
						inBounds = false
						break
					}
					if coord < 0 {
						coord = 0
					} else {
						coord = in[axis] - 1
					}
				}
			}
			src += coord * inStrides[axis]
		}
		if inBounds {
			ov[flat] = xv[src]
		}
	}
	return []*tensor.Tensor{out}, nil
}

func (p Pad) Cost(inputs []fact.Fact) (Cost, error) {
	return Cost{}, nil
}

// Downsample keeps every Stride-th frame along Axis, kaldi subsampling. The
// axis length must be concrete when shapes are inferred; downsampling the
// symbolic stream axis is only meaningful after concretization.
type Downsample struct {
	Axis   int
	Stride int
}

func (Downsample) Name() string { return "Downsample" }

func (d Downsample) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	in, out := inputs[0].Clone(), outputs[0].Clone()
	dt := in.DType
	if dt == nil {
		dt = out.DType
	} else if out.DType != nil && *out.DType != *dt {
		return nil, nil, &fact.TypeConflict{Field: "dtype", A: dt.String(), B: out.DType.String()}
	}
	in.DType, out.DType = dt, dt

	if in.Shape != nil {
		if d.Axis >= len(in.Shape) {
			return nil, nil, fmt.Errorf("Downsample: axis %d out of range for %s", d.Axis, in.Shape)
		}
		n, err := in.Shape[d.Axis].Val()
		if err != nil {
			return nil, nil, fmt.Errorf("Downsample: %w", err)
		}
		shape := in.Shape.Clone()
		shape[d.Axis] = dim.Const((n-1)/d.Stride + 1)
		out.Shape = shape
	}
	return []fact.Fact{in}, []fact.Fact{out}, nil
}

func (d Downsample) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("Downsample", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	in := inputs[0].Shape()
	outShape := in.Clone()
	outShape[d.Axis] = (in[d.Axis]-1)/d.Stride + 1
	out, err := tensor.New(outShape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	inStrides := in.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	for flat := range ov {
		rem := flat
		src := 0
		for axis, s := range outStrides {
			coord := rem / s
			rem %= s
			if axis == d.Axis {
				coord *= d.Stride
			}
			src += coord * inStrides[axis]
		}
		ov[flat] = xv[src]
	}
	return []*tensor.Tensor{out}, nil
}

func (d Downsample) Cost(inputs []fact.Fact) (Cost, error) {
	return Cost{}, nil
}
