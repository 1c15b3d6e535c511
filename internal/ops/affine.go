package ops

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/parallel"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// evalWorkers is shared by the row-parallel matrix kernels.
var evalWorkers = parallel.DefaultConfig()

// MatMul multiplies two rank-2 inputs [m,k] x [k,n] -> [m,n]. The m axis may
// be the streaming dimension.
type MatMul struct{}

func (MatMul) Name() string { return "MatMul" }

func (MatMul) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	a, b, out := inputs[0].Clone(), inputs[1].Clone(), outputs[0].Clone()

	dt := a.DType
	for _, f := range []fact.Fact{b, out} {
		switch {
		case dt == nil:
			dt = f.DType
		case f.DType != nil && *f.DType != *dt:
			return nil, nil, &fact.TypeConflict{Field: "dtype", A: dt.String(), B: f.DType.String()}
		}
	}
	a.DType, b.DType, out.DType = dt, dt, dt

	if a.Shape != nil && len(a.Shape) != 2 {
		return nil, nil, fmt.Errorf("MatMul: left input must be rank 2, got %s", a.Shape)
	}
	if b.Shape != nil && len(b.Shape) != 2 {
		return nil, nil, fmt.Errorf("MatMul: right input must be rank 2, got %s", b.Shape)
	}

	switch {
	case a.Shape != nil && b.Shape != nil:
		if a.Shape[1] != b.Shape[0] {
			return nil, nil, fmt.Errorf("MatMul: inner dimensions disagree: %s vs %s", a.Shape, b.Shape)
		}
		out.Shape = dim.Shape{a.Shape[0], b.Shape[1]}
	case out.Shape != nil && a.Shape != nil:
		// Backward: derive the right operand from output and left.
		b.Shape = dim.Shape{a.Shape[1], out.Shape[1]}
	case out.Shape != nil && b.Shape != nil:
		a.Shape = dim.Shape{out.Shape[0], b.Shape[0]}
	}
	return []fact.Fact{a, b}, []fact.Fact{out}, nil
}

func (m MatMul) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	av, err := f32("MatMul", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	bv, err := f32("MatMul", 1, inputs[1])
	if err != nil {
		return nil, err
	}
	as, bs := inputs[0].Shape(), inputs[1].Shape()
	if len(as) != 2 || len(bs) != 2 || as[1] != bs[0] {
		return nil, fmt.Errorf("MatMul: incompatible shapes %v x %v", as, bs)
	}
	rows, inner, cols := as[0], as[1], bs[1]
	out, err := tensor.New(tensor.Shape{rows, cols}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	parallel.For(rows, func(i int) {
		for j := 0; j < cols; j++ {
			var acc float32
			for k := 0; k < inner; k++ {
				acc += av[i*inner+k] * bv[k*cols+j]
			}
			ov[i*cols+j] = acc
		}
	}, evalWorkers)
	return []*tensor.Tensor{out}, nil
}

func (MatMul) Cost(inputs []fact.Fact) (Cost, error) {
	if inputs[0].Shape == nil || inputs[1].Shape == nil {
		return Cost{}, nil
	}
	a, errA := inputs[0].Shape.Ints()
	b, errB := inputs[1].Shape.Ints()
	if errA != nil || errB != nil {
		return Cost{}, nil
	}
	return Cost{FLOPs: 2 * int64(a[0]) * int64(a[1]) * int64(b[1])}, nil
}

// Affine applies a fused linear map with embedded constant weights:
// y = x.W + b, input [t,k], W [k,n], b [n]. The incorporator builds it from
// the MatMul-plus-bias idiom.
type Affine struct {
	W *tensor.Tensor
	B *tensor.Tensor // may be nil
}

func (Affine) Name() string { return "Affine" }

func (a Affine) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	in, out := inputs[0].Clone(), outputs[0].Clone()
	dt := a.W.DType()
	k, n := a.W.Shape()[0], a.W.Shape()[1]
	in.DType, out.DType = &dt, &dt
	if in.Shape != nil {
		if len(in.Shape) != 2 {
			return nil, nil, fmt.Errorf("Affine: input must be rank 2, got %s", in.Shape)
		}
		if in.Shape[1] != dim.Const(k) {
			return nil, nil, fmt.Errorf("Affine: input features %s do not match weights %dx%d", in.Shape[1], k, n)
		}
		out.Shape = dim.Shape{in.Shape[0], dim.Const(n)}
	} else if out.Shape != nil && len(out.Shape) == 2 {
		in.Shape = dim.Shape{out.Shape[0], dim.Const(k)}
	}
	return []fact.Fact{in}, []fact.Fact{out}, nil
}

func (a Affine) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("Affine", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	xs := inputs[0].Shape()
	wv := a.W.AsFloat32()
	k, n := a.W.Shape()[0], a.W.Shape()[1]
	if len(xs) != 2 || xs[1] != k {
		return nil, fmt.Errorf("Affine: input shape %v does not match weights %dx%d", xs, k, n)
	}
	rows := xs[0]
	out, err := tensor.New(tensor.Shape{rows, n}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	parallel.For(rows, func(t int) {
		for j := 0; j < n; j++ {
			var acc float32
			for i := 0; i < k; i++ {
				acc += xv[t*k+i] * wv[i*n+j]
			}
			ov[t*n+j] = acc
		}
	}, evalWorkers)
	if a.B != nil {
		bv := a.B.AsFloat32()
		for t := 0; t < rows; t++ {
			for j := 0; j < n; j++ {
				ov[t*n+j] += bv[j]
			}
		}
	}
	return []*tensor.Tensor{out}, nil
}

func (a Affine) Cost(inputs []fact.Fact) (Cost, error) {
	k, n := a.W.Shape()[0], a.W.Shape()[1]
	rows := int64(1)
	if inputs[0].Shape != nil {
		if dims, err := inputs[0].Shape.Ints(); err == nil {
			rows = int64(dims[0])
		}
	}
	return Cost{FLOPs: 2 * rows * int64(k) * int64(n)}, nil
}

// AffinePacked is the optimizer's concrete strategy for Affine on static
// shapes: weights pre-transposed to [n,k] for contiguous dot products. It
// never appears before the optimize stage.
type AffinePacked struct {
	WT   *tensor.Tensor // [n,k]
	B    *tensor.Tensor // may be nil
	K, N int
}

// PackAffine builds an AffinePacked from an Affine.
func PackAffine(a Affine) AffinePacked {
	k, n := a.W.Shape()[0], a.W.Shape()[1]
	wv := a.W.AsFloat32()
	wt, _ := tensor.New(tensor.Shape{n, k}, tensor.Float32)
	tv := wt.AsFloat32()
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			tv[j*k+i] = wv[i*n+j]
		}
	}
	return AffinePacked{WT: wt, B: a.B, K: k, N: n}
}

func (AffinePacked) Name() string { return "AffinePacked" }

func (p AffinePacked) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	w, _ := tensor.New(tensor.Shape{p.K, p.N}, p.WT.DType())
	return Affine{W: w, B: p.B}.Infer(inputs, outputs)
}

func (p AffinePacked) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("AffinePacked", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	xs := inputs[0].Shape()
	if len(xs) != 2 || xs[1] != p.K {
		return nil, fmt.Errorf("AffinePacked: input shape %v does not match packed weights %dx%d", xs, p.N, p.K)
	}
	rows := xs[0]
	wv := p.WT.AsFloat32()
	out, err := tensor.New(tensor.Shape{rows, p.N}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	parallel.For(rows, func(t int) {
		row := xv[t*p.K : (t+1)*p.K]
		for j := 0; j < p.N; j++ {
			wrow := wv[j*p.K : (j+1)*p.K]
			var acc float32
			for i := range row {
				acc += row[i] * wrow[i]
			}
			ov[t*p.N+j] = acc
		}
	}, evalWorkers)
	if p.B != nil {
		bv := p.B.AsFloat32()
		for t := 0; t < rows; t++ {
			for j := 0; j < p.N; j++ {
				ov[t*p.N+j] += bv[j]
			}
		}
	}
	return []*tensor.Tensor{out}, nil
}

func (p AffinePacked) Cost(inputs []fact.Fact) (Cost, error) {
	w, _ := tensor.New(tensor.Shape{p.K, p.N}, p.WT.DType())
	return Affine{W: w, B: p.B}.Cost(inputs)
}

// ScaleShift applies y = x*scale + shift elementwise, scale and shift
// broadcasting over the input (typically per-feature vectors). The
// incorporator folds the Mul-const-then-Add-const idiom into it.
type ScaleShift struct {
	Scale *tensor.Tensor // may be nil (pure shift)
	Shift *tensor.Tensor // may be nil (pure scale)
}

func (ScaleShift) Name() string { return "ScaleShift" }

func (s ScaleShift) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	in, err := fact.Unify(fact.Fact{DType: inputs[0].DType, Shape: inputs[0].Shape},
		fact.Fact{DType: outputs[0].DType, Shape: outputs[0].Shape})
	if err != nil {
		return nil, nil, err
	}
	return []fact.Fact{in}, []fact.Fact{in.Clone()}, nil
}

func (s ScaleShift) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	xv, err := f32("ScaleShift", 0, inputs[0])
	if err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	out, err := tensor.New(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	ov := out.AsFloat32()
	copy(ov, xv)
	if s.Scale != nil {
		bi := newBroadcastIndexer(s.Scale.Shape(), shape)
		sv := s.Scale.AsFloat32()
		for i := range ov {
			ov[i] *= sv[bi.at(i)]
		}
	}
	if s.Shift != nil {
		bi := newBroadcastIndexer(s.Shift.Shape(), shape)
		sv := s.Shift.AsFloat32()
		for i := range ov {
			ov[i] += sv[bi.at(i)]
		}
	}
	return []*tensor.Tensor{out}, nil
}

func (s ScaleShift) Cost(inputs []fact.Fact) (Cost, error) {
	n := int64(1)
	if inputs[0].Shape != nil {
		if dims, err := inputs[0].Shape.Ints(); err == nil {
			n = int64(tensor.Shape(dims).NumElements())
		}
	}
	return Cost{FLOPs: 2 * n}, nil
}
