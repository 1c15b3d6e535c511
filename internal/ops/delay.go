package ops

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// Delay shifts the stream by D frames along axis 0: y[t] = x[t-D], zero
// before the stream starts. A zero delay is pure scaffolding and decluttered
// away.
type Delay struct {
	D int
}

func (d Delay) Name() string { return "Delay" }

func (d Delay) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	in, err := fact.Unify(fact.Fact{DType: inputs[0].DType, Shape: inputs[0].Shape},
		fact.Fact{DType: outputs[0].DType, Shape: outputs[0].Shape})
	if err != nil {
		return nil, nil, err
	}
	if in.Shape != nil && len(in.Shape) != 2 {
		return nil, nil, fmt.Errorf("Delay: input must be rank 2, got %s", in.Shape)
	}
	return []fact.Fact{in}, []fact.Fact{in.Clone()}, nil
}

func (d Delay) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("Delay", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	rows, feats := shape[0], shape[1]
	out, err := tensor.New(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	for t := d.D; t < rows; t++ {
		copy(ov[t*feats:(t+1)*feats], xv[(t-d.D)*feats:(t-d.D+1)*feats])
	}
	return []*tensor.Tensor{out}, nil
}

func (d Delay) Cost(inputs []fact.Fact) (Cost, error) {
	return Cost{}, nil
}

func (d Delay) NewState() State {
	return &delayState{op: d}
}

type delayState struct {
	op      Delay
	history []float32 // D x features, oldest first
	feats   int
}

func (s *delayState) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("Delay", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	rows, feats := shape[0], shape[1]
	if s.history == nil {
		s.history = make([]float32, s.op.D*feats)
		s.feats = feats
	}
	if s.feats != feats {
		return nil, fmt.Errorf("Delay: pulse feature count changed from %d to %d", s.feats, feats)
	}

	buf := make([]float32, 0, (s.op.D+rows)*feats)
	buf = append(buf, s.history...)
	buf = append(buf, xv...)

	out, err := tensor.New(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	copy(out.AsFloat32(), buf[:rows*feats])
	if s.op.D > 0 {
		copy(s.history, buf[rows*feats:])
	}
	return []*tensor.Tensor{out}, nil
}

// CumSum accumulates along the streaming axis: y[t] = x[0] + ... + x[t],
// per feature. Its pulsed form carries the running sum across pulses.
type CumSum struct{}

func (CumSum) Name() string { return "CumSum" }

func (CumSum) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	in, err := fact.Unify(fact.Fact{DType: inputs[0].DType, Shape: inputs[0].Shape},
		fact.Fact{DType: outputs[0].DType, Shape: outputs[0].Shape})
	if err != nil {
		return nil, nil, err
	}
	if in.Shape != nil && len(in.Shape) != 2 {
		return nil, nil, fmt.Errorf("CumSum: input must be rank 2, got %s", in.Shape)
	}
	return []fact.Fact{in}, []fact.Fact{in.Clone()}, nil
}

func (c CumSum) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("CumSum", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	rows, feats := shape[0], shape[1]
	out, err := tensor.New(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	acc := make([]float32, feats)
	for t := 0; t < rows; t++ {
		for f := 0; f < feats; f++ {
			acc[f] += xv[t*feats+f]
			ov[t*feats+f] = acc[f]
		}
	}
	return []*tensor.Tensor{out}, nil
}

func (c CumSum) Cost(inputs []fact.Fact) (Cost, error) {
	n := int64(1)
	if inputs[0].Shape != nil {
		if dims, err := inputs[0].Shape.Ints(); err == nil {
			n = int64(tensor.Shape(dims).NumElements())
		}
	}
	return Cost{FLOPs: n}, nil
}

func (c CumSum) NewState() State {
	return &cumSumState{}
}

type cumSumState struct {
	acc []float32
}

func (s *cumSumState) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("CumSum", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	rows, feats := shape[0], shape[1]
	if s.acc == nil {
		s.acc = make([]float32, feats)
	}
	if len(s.acc) != feats {
		return nil, fmt.Errorf("CumSum: pulse feature count changed from %d to %d", len(s.acc), feats)
	}
	out, err := tensor.New(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	for t := 0; t < rows; t++ {
		for f := 0; f < feats; f++ {
			s.acc[f] += xv[t*feats+f]
			ov[t*feats+f] = s.acc[f]
		}
	}
	return []*tensor.Tensor{out}, nil
}
