package ops

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// Conv1D is a causal depthwise convolution along the streaming axis (axis 0)
// of a [time, features] input: y[t,f] = sum_j kernel[j] * x[t-j,f], with
// x[t<0] = 0. Causality keeps the output length equal to the input length,
// which is what makes the pulsed form exact with zero-initialized history.
type Conv1D struct {
	Kernel []float32
}

func (Conv1D) Name() string { return "Conv1D" }

func (c Conv1D) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	in, err := fact.Unify(fact.Fact{DType: inputs[0].DType, Shape: inputs[0].Shape},
		fact.Fact{DType: outputs[0].DType, Shape: outputs[0].Shape})
	if err != nil {
		return nil, nil, err
	}
	if in.Shape != nil && len(in.Shape) != 2 {
		return nil, nil, fmt.Errorf("Conv1D: input must be rank 2, got %s", in.Shape)
	}
	return []fact.Fact{in}, []fact.Fact{in.Clone()}, nil
}

func (c Conv1D) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("Conv1D", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("Conv1D: input must be rank 2, got %v", shape)
	}
	rows, feats := shape[0], shape[1]
	out, err := tensor.New(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	for t := 0; t < rows; t++ {
		for f := 0; f < feats; f++ {
			var acc float32
			for j, k := range c.Kernel {
				if t-j < 0 {
					break
				}
				acc += k * xv[(t-j)*feats+f]
			}
			ov[t*feats+f] = acc
		}
	}
	return []*tensor.Tensor{out}, nil
}

func (c Conv1D) Cost(inputs []fact.Fact) (Cost, error) {
	n := int64(1)
	if inputs[0].Shape != nil {
		if dims, err := inputs[0].Shape.Ints(); err == nil {
			n = int64(tensor.Shape(dims).NumElements())
		}
	}
	return Cost{FLOPs: 2 * n * int64(len(c.Kernel))}, nil
}

// NewState allocates the pulsed-execution state: the last len(kernel)-1
// input frames, zero to start.
func (c Conv1D) NewState() State {
	return &convState{op: c}
}

type convState struct {
	op      Conv1D
	history []float32 // (k-1) x features, oldest first
	feats   int
}

func (s *convState) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("Conv1D", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("Conv1D: pulse must be rank 2, got %v", shape)
	}
	rows, feats := shape[0], shape[1]
	ctx := len(s.op.Kernel) - 1
	if s.history == nil {
		s.history = make([]float32, ctx*feats)
		s.feats = feats
	}
	if s.feats != feats {
		return nil, fmt.Errorf("Conv1D: pulse feature count changed from %d to %d", s.feats, feats)
	}

	// Work on history ++ pulse, emit the last `rows` frames.
	buf := make([]float32, 0, (ctx+rows)*feats)
	buf = append(buf, s.history...)
	buf = append(buf, xv...)

	out, err := tensor.New(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	for t := 0; t < rows; t++ {
		at := t + ctx
		for f := 0; f < feats; f++ {
			var acc float32
			for j, k := range s.op.Kernel {
				acc += k * buf[(at-j)*feats+f]
			}
			ov[t*feats+f] = acc
		}
	}
	if ctx > 0 {
		copy(s.history, buf[rows*feats:])
	}
	return []*tensor.Tensor{out}, nil
}
