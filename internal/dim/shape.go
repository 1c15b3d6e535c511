package dim

import (
	"fmt"
	"strings"
)

// Shape is a sequence of dimension expressions.
type Shape []Dim

// ShapeOf builds a fully concrete shape from plain integers.
func ShapeOf(dims ...int) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = Const(d)
	}
	return s
}

// IsConcrete reports whether every dimension is concrete.
func (s Shape) IsConcrete() bool {
	for _, d := range s {
		if !d.IsConcrete() {
			return false
		}
	}
	return true
}

// StreamAxis returns the index of the first dimension that depends on S,
// or -1 if the shape is concrete.
func (s Shape) StreamAxis() int {
	for i, d := range s {
		if !d.IsConcrete() {
			return i
		}
	}
	return -1
}

// Concretize substitutes S := stream in every dimension.
func (s Shape) Concretize(stream int) []int {
	out := make([]int, len(s))
	for i, d := range s {
		out[i] = d.Concretize(stream)
	}
	return out
}

// Ints returns the concrete dimensions, erroring on any symbolic one.
func (s Shape) Ints() ([]int, error) {
	out := make([]int, len(s))
	for i, d := range s {
		v, err := d.Val()
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Equal reports structural equality.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// String renders the shape as "2x3xS".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return strings.Join(parts, "x")
}
