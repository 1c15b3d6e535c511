// Package fact implements the lattice of partial knowledge about graph edges.
//
// A Fact describes what is known about the tensor flowing through one outlet:
// its element type, its shape (possibly involving the symbolic streaming
// dimension), and possibly its concrete value. Unknown fields are nil. Facts
// only ever become more specific; unification of two facts either fails with a
// TypeConflict or yields the join.
package fact

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// Fact is a partial description of an edge's tensor. Nil fields are unknown.
type Fact struct {
	DType *tensor.DataType
	Shape dim.Shape // nil means unknown rank
	Value *tensor.Tensor
}

// Any returns a fact with nothing known.
func Any() Fact {
	return Fact{}
}

// Typed returns a fact with known element type and shape.
func Typed(dt tensor.DataType, shape dim.Shape) Fact {
	return Fact{DType: &dt, Shape: shape}
}

// Of returns the fully concrete fact describing a constant value.
func Of(t *tensor.Tensor) Fact {
	dt := t.DType()
	shape := make(dim.Shape, len(t.Shape()))
	for i, d := range t.Shape() {
		shape[i] = dim.Const(d)
	}
	return Fact{DType: &dt, Shape: shape, Value: t}
}

// IsConcrete reports whether dtype and shape are known and the shape has no
// symbolic dimension. A concrete fact needs no value.
func (f Fact) IsConcrete() bool {
	return f.DType != nil && f.Shape != nil && f.Shape.IsConcrete()
}

// IsTyped reports whether dtype and shape are known; the shape may still
// involve the streaming dimension.
func (f Fact) IsTyped() bool {
	return f.DType != nil && f.Shape != nil
}

// Clone returns a copy of the fact. The value tensor is shared: facts never
// mutate values.
func (f Fact) Clone() Fact {
	out := f
	if f.DType != nil {
		dt := *f.DType
		out.DType = &dt
	}
	if f.Shape != nil {
		out.Shape = f.Shape.Clone()
	}
	return out
}

// Equal reports whether two facts carry exactly the same knowledge.
func (f Fact) Equal(other Fact) bool {
	if (f.DType == nil) != (other.DType == nil) {
		return false
	}
	if f.DType != nil && *f.DType != *other.DType {
		return false
	}
	if (f.Shape == nil) != (other.Shape == nil) {
		return false
	}
	if f.Shape != nil && !f.Shape.Equal(other.Shape) {
		return false
	}
	if (f.Value == nil) != (other.Value == nil) {
		return false
	}
	if f.Value != nil && !f.Value.Equal(other.Value) {
		return false
	}
	return true
}

// String renders the fact, "?" standing for unknown fields.
func (f Fact) String() string {
	dt := "?"
	if f.DType != nil {
		dt = f.DType.String()
	}
	shape := "?"
	if f.Shape != nil {
		shape = f.Shape.String()
		if shape == "" {
			shape = "scalar"
		}
	}
	if f.Value != nil {
		return fmt.Sprintf("%s,%s,const", dt, shape)
	}
	return fmt.Sprintf("%s,%s", dt, shape)
}
