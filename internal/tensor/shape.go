package tensor

import "fmt"

// Shape represents the concrete dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate checks that all dimensions are positive.
func (s Shape) Validate() error {
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("invalid dimension at axis %d: %d (must be > 0)", i, d)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
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

// ComputeStrides calculates row-major strides for the shape.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// BroadcastShapes implements NumPy-style broadcasting rules: compare
// dimensions right to left, dimensions are compatible when equal or when one
// of them is 1, missing dimensions count as 1.
func BroadcastShapes(a, b Shape) (Shape, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	result := make(Shape, n)
	for i := 0; i < n; i++ {
		ad, bd := 1, 1
		if ai := len(a) - 1 - i; ai >= 0 {
			ad = a[ai]
		}
		if bi := len(b) - 1 - i; bi >= 0 {
			bd = b[bi]
		}
		switch {
		case ad == bd:
			result[n-1-i] = ad
		case ad == 1:
			result[n-1-i] = bd
		case bd == 1:
			result[n-1-i] = ad
		default:
			return nil, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v", a, b)
		}
	}
	return result, nil
}
