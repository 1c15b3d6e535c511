package tensor_test

import (
	"testing"

	"github.com/lijianhackthon/tract/internal/tensor"
)

func TestNew_ZeroInitialized(t *testing.T) {
	v, err := tensor.New(tensor.Shape{2, 3}, tensor.Float32)
	if err != nil {
		t.Fatal(err)
	}
	if v.NumElements() != 6 {
		t.Fatalf("NumElements = %d, want 6", v.NumElements())
	}
	for i, x := range v.AsFloat32() {
		if x != 0 {
			t.Fatalf("element %d = %v, want 0", i, x)
		}
	}
}

func TestNew_RejectsInvalidShape(t *testing.T) {
	if _, err := tensor.New(tensor.Shape{2, -1}, tensor.Float32); err == nil {
		t.Fatal("negative dimension should be rejected")
	}
}

func TestFromFloat32_SizeMismatch(t *testing.T) {
	if _, err := tensor.FromFloat32([]float32{1, 2, 3}, tensor.Shape{2, 2}); err == nil {
		t.Fatal("3 elements do not fill a 2x2 shape")
	}
}

func TestScalar(t *testing.T) {
	s := tensor.ScalarF32(2.5)
	if len(s.Shape()) != 0 {
		t.Fatalf("scalar shape = %v, want rank 0", s.Shape())
	}
	if s.NumElements() != 1 || s.AsFloat32()[0] != 2.5 {
		t.Fatalf("scalar value = %v", s.AsFloat32())
	}
}

func TestClone_IsDeep(t *testing.T) {
	a, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	b := a.Clone()
	b.AsFloat32()[0] = 99
	if a.AsFloat32()[0] != 1 {
		t.Fatal("mutating the clone changed the original")
	}
	if !a.Equal(a.Clone()) {
		t.Fatal("clone should compare equal")
	}
}

func TestEqual(t *testing.T) {
	a, _ := tensor.FromFloat32([]float32{1, 2}, tensor.Shape{2})
	b, _ := tensor.FromFloat32([]float32{1, 2}, tensor.Shape{2})
	c, _ := tensor.FromFloat32([]float32{1, 3}, tensor.Shape{2})
	d, _ := tensor.FromFloat32([]float32{1, 2}, tensor.Shape{2, 1})

	if !a.Equal(b) {
		t.Fatal("identical tensors should be equal")
	}
	if a.Equal(c) {
		t.Fatal("different contents should not be equal")
	}
	if a.Equal(d) {
		t.Fatal("different shapes should not be equal")
	}
}

func TestFromInt64(t *testing.T) {
	v, err := tensor.FromInt64([]int64{1, 2, 3}, tensor.Shape{3})
	if err != nil {
		t.Fatal(err)
	}
	if v.DType() != tensor.Int64 {
		t.Fatalf("dtype = %v, want int64", v.DType())
	}
	if v.AsInt64()[2] != 3 {
		t.Fatalf("AsInt64 = %v", v.AsInt64())
	}
}

func TestAs_WrongTypePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("AsFloat32 on an int64 tensor should panic")
		}
	}()
	v, _ := tensor.FromInt64([]int64{1}, tensor.Shape{1})
	_ = v.AsFloat32()
}

func TestString(t *testing.T) {
	v, _ := tensor.FromFloat32(make([]float32, 6), tensor.Shape{2, 3})
	if got := v.String(); got != "float32[2x3]" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseDataType(t *testing.T) {
	dt, err := tensor.ParseDataType("float32")
	if err != nil || dt != tensor.Float32 {
		t.Fatalf("ParseDataType(float32) = %v, %v", dt, err)
	}
	if _, err := tensor.ParseDataType("complex128"); err == nil {
		t.Fatal("unknown dtype should be rejected")
	}
}

func TestComputeStrides(t *testing.T) {
	s := tensor.Shape{2, 3, 4}
	strides := s.ComputeStrides()
	want := []int{12, 4, 1}
	for i := range want {
		if strides[i] != want[i] {
			t.Fatalf("strides = %v, want %v", strides, want)
		}
	}
}

func TestBroadcastShapes(t *testing.T) {
	out, err := tensor.BroadcastShapes(tensor.Shape{2, 1}, tensor.Shape{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(tensor.Shape{2, 3}) {
		t.Fatalf("broadcast = %v", out)
	}
	if _, err := tensor.BroadcastShapes(tensor.Shape{2}, tensor.Shape{3}); err == nil {
		t.Fatal("2 against 3 should not broadcast")
	}
}
