package graph

import "fmt"

// The three model kinds differ only in the guarantee their facts satisfy:
// inference facts may be partial, typed facts all carry a dtype and a shape
// (the shape may still involve the symbolic streaming dimension until it is
// concretized or pulsed), pulsed facts are concrete with the stream axis
// bound to the pulse length.
//
// Conversions consume their receiver: a stage takes the model by value
// semantics and the caller must not keep using the old reference. Nothing
// aliases across stages.

// InferenceModel is a graph whose facts may still be partial.
type InferenceModel struct {
	*Graph
}

// NewInference creates an empty inference model.
func NewInference() *InferenceModel {
	return &InferenceModel{Graph: New()}
}

// ErrUnresolved reports a fact that a lowering required to be fully specified
// but was not.
type ErrUnresolved struct {
	Outlet OutletID
	Name   string
	Detail string
}

func (e *ErrUnresolved) Error() string {
	return fmt.Sprintf("unresolved fact on outlet %s of node %q: %s", e.Outlet, e.Name, e.Detail)
}

// IntoTyped consumes the inference model and produces a typed model. Every
// outlet fact must carry a dtype and a shape; otherwise IntoTyped fails with
// ErrUnresolved naming the offending outlet.
func (m *InferenceModel) IntoTyped() (*TypedModel, error) {
	for _, n := range m.Nodes() {
		for slot := range n.Outputs {
			f := n.Outputs[slot].Fact
			if !f.IsTyped() {
				return nil, &ErrUnresolved{
					Outlet: OutletID{Node: n.ID, Slot: slot},
					Name:   n.Name,
					Detail: fmt.Sprintf("still partial: %s", f),
				}
			}
		}
	}
	g := m.Graph
	m.Graph = nil
	return &TypedModel{Graph: g}, nil
}

// TypedModel is a graph whose facts all carry a dtype and a shape.
type TypedModel struct {
	*Graph
}

// IsConcrete reports whether no fact involves the streaming dimension.
func (m *TypedModel) IsConcrete() bool {
	for _, n := range m.Nodes() {
		for slot := range n.Outputs {
			if !n.Outputs[slot].Fact.IsConcrete() {
				return false
			}
		}
	}
	return true
}
