package dim_test

import (
	"testing"

	"github.com/lijianhackthon/tract/internal/dim"
)

func TestDim_Arithmetic(t *testing.T) {
	s := dim.Stream()
	d := s.Add(dim.Const(3)).Sub(dim.Const(1)) // S+2
	if d != (dim.Dim{S: 1, B: 2}) {
		t.Fatalf("S+3-1 = %s, want S+2", d)
	}
	if got := d.MulInt(2); got != (dim.Dim{S: 2, B: 4}) {
		t.Fatalf("(S+2)*2 = %s, want 2S+4", got)
	}
	if got := d.Concretize(10); got != 12 {
		t.Fatalf("(S+2)[S:=10] = %d, want 12", got)
	}
}

func TestDim_Val(t *testing.T) {
	if v, err := dim.Const(7).Val(); err != nil || v != 7 {
		t.Fatalf("Const(7).Val() = %d, %v", v, err)
	}
	if _, err := dim.Stream().Val(); err == nil {
		t.Fatal("Stream().Val() should fail, the dimension is symbolic")
	}
}

func TestDim_DivInt(t *testing.T) {
	d := dim.Dim{S: 2, B: 4}
	q, err := d.DivInt(2)
	if err != nil {
		t.Fatalf("DivInt(2) failed: %v", err)
	}
	if q != (dim.Dim{S: 1, B: 2}) {
		t.Fatalf("(2S+4)/2 = %s, want S+2", q)
	}
	if _, err := d.DivInt(3); err == nil {
		t.Fatal("(2S+4)/3 should fail, the division is not exact")
	}
	if _, err := d.DivInt(0); err == nil {
		t.Fatal("division by zero should fail")
	}
}

func TestDim_String(t *testing.T) {
	cases := []struct {
		d    dim.Dim
		want string
	}{
		{dim.Const(4), "4"},
		{dim.Stream(), "S"},
		{dim.Stream().Add(dim.Const(2)), "S+2"},
		{dim.Stream().Sub(dim.Const(2)), "S-2"},
		{dim.Stream().MulInt(3), "3S"},
	}
	for _, c := range cases {
		if got := c.d.String(); got != c.want {
			t.Errorf("String(%+v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestShape_StreamAxis(t *testing.T) {
	s := dim.Shape{dim.Stream(), dim.Const(3)}
	if axis := s.StreamAxis(); axis != 0 {
		t.Fatalf("StreamAxis = %d, want 0", axis)
	}
	if axis := (dim.Shape{dim.Const(2), dim.Const(3)}).StreamAxis(); axis != -1 {
		t.Fatalf("StreamAxis of concrete shape = %d, want -1", axis)
	}
}

func TestShape_Concretize(t *testing.T) {
	s := dim.Shape{dim.Stream().Sub(dim.Const(2)), dim.Const(3)}
	got := s.Concretize(10)
	if len(got) != 2 || got[0] != 8 || got[1] != 3 {
		t.Fatalf("Concretize(10) = %v, want [8 3]", got)
	}
}

func TestShape_Equal(t *testing.T) {
	a := dim.Shape{dim.Stream(), dim.Const(3)}
	b := dim.Shape{dim.Stream(), dim.Const(3)}
	if !a.Equal(b) {
		t.Fatal("identical symbolic shapes should be equal")
	}
	if a.Equal(dim.Shape{dim.Stream(), dim.Const(4)}) {
		t.Fatal("[S 3] should not equal [S 4]")
	}
	if a.Equal(dim.Shape{dim.Stream()}) {
		t.Fatal("shapes of different rank should not be equal")
	}
}

func TestBroadcast(t *testing.T) {
	s := dim.Stream()
	got, err := dim.Broadcast(dim.Shape{s, dim.Const(3)}, dim.Shape{dim.Const(3)})
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if !got.Equal(dim.Shape{s, dim.Const(3)}) {
		t.Fatalf("Broadcast([S 3], [3]) = %s", got)
	}

	got, err = dim.Broadcast(dim.Shape{s, dim.Const(1)}, dim.Shape{dim.Const(1), dim.Const(4)})
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if !got.Equal(dim.Shape{s, dim.Const(4)}) {
		t.Fatalf("Broadcast([S 1], [1 4]) = %s", got)
	}
}

func TestBroadcast_SymbolicNeverCollapses(t *testing.T) {
	// S cannot be proven equal to a constant, so [S] against [4] must fail.
	if _, err := dim.Broadcast(dim.Shape{dim.Stream()}, dim.Shape{dim.Const(4)}); err == nil {
		t.Fatal("broadcasting S against 4 should fail")
	}
}
