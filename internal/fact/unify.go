package fact

import "fmt"

// TypeConflict reports that two facts carry incompatible knowledge about the
// same edge. Unification never mutates its inputs, so a conflict leaves both
// facts exactly as they were.
type TypeConflict struct {
	Field string // "dtype", "shape" or "value"
	A, B  string
}

func (e *TypeConflict) Error() string {
	return fmt.Sprintf("incompatible facts: %s %s vs %s", e.Field, e.A, e.B)
}

// Unify returns the join of two facts: every field known on either side, with
// agreement required where both sides know. On disagreement it returns a
// *TypeConflict and a zero fact.
func Unify(a, b Fact) (Fact, error) {
	out := Fact{}

	switch {
	case a.DType != nil && b.DType != nil:
		if *a.DType != *b.DType {
			return Fact{}, &TypeConflict{Field: "dtype", A: a.DType.String(), B: b.DType.String()}
		}
		out.DType = a.DType
	case a.DType != nil:
		out.DType = a.DType
	default:
		out.DType = b.DType
	}

	switch {
	case a.Shape != nil && b.Shape != nil:
		if !a.Shape.Equal(b.Shape) {
			return Fact{}, &TypeConflict{Field: "shape", A: a.Shape.String(), B: b.Shape.String()}
		}
		out.Shape = a.Shape
	case a.Shape != nil:
		out.Shape = a.Shape
	default:
		out.Shape = b.Shape
	}

	switch {
	case a.Value != nil && b.Value != nil:
		if !a.Value.Equal(b.Value) {
			return Fact{}, &TypeConflict{Field: "value", A: a.Value.String(), B: b.Value.String()}
		}
		out.Value = a.Value
	case a.Value != nil:
		out.Value = a.Value
	default:
		out.Value = b.Value
	}

	return out, nil
}
