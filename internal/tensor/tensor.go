package tensor

import (
	"bytes"
	"fmt"
	"strings"
	"unsafe"
)

// Tensor is a concrete, owned tensor value. Facts carry Tensors for constant
// outlets, and the reference evaluator computes with them.
type Tensor struct {
	shape Shape
	dtype DataType
	data  []byte
}

// New creates a zero-initialized tensor with the given shape and type.
func New(shape Shape, dtype DataType) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &Tensor{
		shape: shape.Clone(),
		dtype: dtype,
		data:  make([]byte, shape.NumElements()*dtype.Size()),
	}, nil
}

// FromFloat32 creates a float32 tensor from a slice. The data is copied.
func FromFloat32(data []float32, shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data))
	}
	t, err := New(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), data)
	return t, nil
}

// ScalarF32 creates a 0-D float32 tensor.
func ScalarF32(v float32) *Tensor {
	t, _ := New(Shape{}, Float32)
	t.AsFloat32()[0] = v
	return t
}

// FromInt64 creates an int64 tensor from a slice. The data is copied.
func FromInt64(data []int64, shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data))
	}
	t, err := New(shape, Int64)
	if err != nil {
		return nil, err
	}
	copy(t.AsInt64(), data)
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// Data returns the raw byte slice backing the tensor.
func (t *Tensor) Data() []byte {
	return t.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (t *Tensor) AsFloat32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (t *Tensor) AsInt64() []int64 {
	if t.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		shape: t.shape.Clone(),
		dtype: t.dtype,
		data:  make([]byte, len(t.data)),
	}
	copy(out.data, t.data)
	return out
}

// Equal reports deep equality of shape, dtype and contents.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.dtype == other.dtype && t.shape.Equal(other.shape) && bytes.Equal(t.data, other.data)
}

// String returns a short human-readable representation.
func (t *Tensor) String() string {
	dims := make([]string, len(t.shape))
	for i, d := range t.shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s[%s]", t.dtype, strings.Join(dims, "x"))
}
