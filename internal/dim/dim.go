// Package dim models tensor dimension expressions over a single symbolic
// streaming axis length, conventionally written S.
//
// A Dim is a linear form s*S + b. Most dimensions are plain integers (s == 0);
// streaming models carry S itself (or derived forms like S-2 for a valid
// convolution) until the pipeline either concretizes S or pulses the axis.
package dim

import "fmt"

// Dim is a dimension expression of the form S*Stream + B.
type Dim struct {
	S int // coefficient of the symbolic stream length
	B int // constant part
}

// Const returns a concrete dimension.
func Const(n int) Dim {
	return Dim{B: n}
}

// Stream returns the symbolic streaming dimension S.
func Stream() Dim {
	return Dim{S: 1}
}

// IsConcrete reports whether the dimension has no symbolic part.
func (d Dim) IsConcrete() bool {
	return d.S == 0
}

// Val returns the concrete value of the dimension.
// It errors if the dimension still depends on S.
func (d Dim) Val() (int, error) {
	if !d.IsConcrete() {
		return 0, fmt.Errorf("dimension %s is not concrete", d)
	}
	return d.B, nil
}

// Add returns d + other.
func (d Dim) Add(other Dim) Dim {
	return Dim{S: d.S + other.S, B: d.B + other.B}
}

// Sub returns d - other.
func (d Dim) Sub(other Dim) Dim {
	return Dim{S: d.S - other.S, B: d.B - other.B}
}

// MulInt returns d * n.
func (d Dim) MulInt(n int) Dim {
	return Dim{S: d.S * n, B: d.B * n}
}

// DivInt returns d / n. Division must be exact on both the symbolic
// coefficient and the constant part.
func (d Dim) DivInt(n int) (Dim, error) {
	if n == 0 {
		return Dim{}, fmt.Errorf("division of dimension %s by zero", d)
	}
	if d.S%n != 0 || d.B%n != 0 {
		return Dim{}, fmt.Errorf("dimension %s not divisible by %d", d, n)
	}
	return Dim{S: d.S / n, B: d.B / n}, nil
}

// Concretize substitutes S := stream and returns the resulting value.
func (d Dim) Concretize(stream int) int {
	return d.S*stream + d.B
}

// String renders the dimension, using "S" for the streaming axis.
func (d Dim) String() string {
	switch {
	case d.S == 0:
		return fmt.Sprintf("%d", d.B)
	case d.S == 1 && d.B == 0:
		return "S"
	case d.B == 0:
		return fmt.Sprintf("%dS", d.S)
	case d.S == 1 && d.B < 0:
		return fmt.Sprintf("S%d", d.B)
	case d.S == 1:
		return fmt.Sprintf("S+%d", d.B)
	case d.B < 0:
		return fmt.Sprintf("%dS%d", d.S, d.B)
	default:
		return fmt.Sprintf("%dS+%d", d.S, d.B)
	}
}
