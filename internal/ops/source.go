package ops

import (
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// Source marks a designated graph input. It has no inputs and one output;
// its output fact is set by the front end (or by a caller override) and the
// analyser propagates from there.
type Source struct{}

func (Source) Name() string { return "Source" }

func (Source) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	return nil, []fact.Fact{outputs[0].Clone()}, nil
}

func (Source) Cost(inputs []fact.Fact) (Cost, error) {
	return Cost{}, nil
}

// Const holds a constant tensor.
type Const struct {
	Value *tensor.Tensor
}

func (Const) Name() string { return "Const" }

func (c Const) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	return nil, []fact.Fact{fact.Of(c.Value)}, nil
}

func (c Const) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{c.Value}, nil
}

func (c Const) Cost(inputs []fact.Fact) (Cost, error) {
	return Cost{}, nil
}

// Identity passes its single input through unchanged.
type Identity struct{}

func (Identity) Name() string { return "Identity" }

func (Identity) Infer(inputs, outputs []fact.Fact) ([]fact.Fact, []fact.Fact, error) {
	// Fully bidirectional: anything known on one side holds on the other.
	in, err := fact.Unify(inputs[0], outputs[0])
	if err != nil {
		return nil, nil, err
	}
	return []fact.Fact{in}, []fact.Fact{in.Clone()}, nil
}

func (Identity) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{inputs[0]}, nil
}

func (Identity) Cost(inputs []fact.Fact) (Cost, error) {
	return Cost{}, nil
}
