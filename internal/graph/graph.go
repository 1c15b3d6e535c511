// Package graph implements the mutable operation graph shared by every stage
// of the pipeline, and the atomic Patch primitive every rewrite is built on.
//
// Nodes live in an arena indexed by dense id; edges are plain (node, slot)
// pairs kept in double entry: a node's Inputs list and the source slots'
// Successors lists must mirror each other at all times. Check verifies the
// mirror and acyclicity.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/ops"
)

// OutletID identifies an output slot: (node id, output index).
type OutletID struct {
	Node int
	Slot int
}

func (o OutletID) String() string {
	return fmt.Sprintf("%d/%d", o.Node, o.Slot)
}

// InletID identifies an input slot: (node id, input index).
type InletID struct {
	Node int
	Slot int
}

// OutputSlot carries the fact attached to one outlet and the non-owning
// back-references to its consumers.
type OutputSlot struct {
	Fact       fact.Fact
	Successors []InletID
}

// Node is one operation in the graph.
type Node struct {
	ID      int
	Name    string
	Op      ops.Op
	Inputs  []OutletID
	Outputs []OutputSlot
}

// Graph owns all nodes by id and the ordered lists of designated input and
// output outlets. The id is the sole stable identity; names are a secondary
// unique index.
type Graph struct {
	nodes   []*Node
	byName  map[string]int
	inputs  []OutletID
	outputs []OutletID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{byName: make(map[string]int)}
}

// AddNode inserts a node with the given number of output slots and returns
// its id. Names must be unique within the graph.
func (g *Graph) AddNode(name string, op ops.Op, outputs int) (int, error) {
	if _, dup := g.byName[name]; dup {
		return 0, fmt.Errorf("duplicate node name %q", name)
	}
	id := len(g.nodes)
	node := &Node{ID: id, Name: name, Op: op, Outputs: make([]OutputSlot, outputs)}
	g.nodes = append(g.nodes, node)
	g.byName[name] = id
	return id, nil
}

// AddEdge wires an outlet into an inlet, maintaining the successor
// back-reference. The inlet slot must extend the target's input list by one
// or replace an existing input (whose old back-reference is dropped).
func (g *Graph) AddEdge(from OutletID, to InletID) error {
	src, err := g.outlet(from)
	if err != nil {
		return err
	}
	dst, err := g.node(to.Node)
	if err != nil {
		return err
	}
	switch {
	case to.Slot == len(dst.Inputs):
		dst.Inputs = append(dst.Inputs, from)
	case to.Slot < len(dst.Inputs):
		old := dst.Inputs[to.Slot]
		if slot, err := g.outlet(old); err == nil {
			slot.Successors = removeInlet(slot.Successors, to)
		}
		dst.Inputs[to.Slot] = from
	default:
		return fmt.Errorf("inlet slot %d of node %q would leave a gap (%d inputs wired)", to.Slot, dst.Name, len(dst.Inputs))
	}
	src.Successors = append(src.Successors, to)
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id int) *Node {
	n, err := g.node(id)
	if err != nil {
		panic(err)
	}
	return n
}

// NodeCount returns the number of nodes, including tombstones left by an
// in-progress patch application.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Nodes returns all live nodes in id order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// RenameNode changes a node's name, keeping the name index consistent.
func (g *Graph) RenameNode(id int, name string) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	if other, dup := g.byName[name]; dup && other != id {
		return fmt.Errorf("duplicate node name %q", name)
	}
	delete(g.byName, n.Name)
	n.Name = name
	g.byName[name] = id
	return nil
}

// NodeByName resolves a node by its unique name.
func (g *Graph) NodeByName(name string) (*Node, error) {
	id, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("no node named %q", name)
	}
	return g.nodes[id], nil
}

// Inputs returns the designated input outlets in order.
func (g *Graph) Inputs() []OutletID {
	return g.inputs
}

// Outputs returns the designated output outlets in order.
func (g *Graph) Outputs() []OutletID {
	return g.outputs
}

// SetInputs records the designated input outlets.
func (g *Graph) SetInputs(outlets ...OutletID) error {
	for _, o := range outlets {
		if _, err := g.outlet(o); err != nil {
			return err
		}
	}
	g.inputs = append([]OutletID(nil), outlets...)
	return nil
}

// SetOutputs records the designated output outlets.
func (g *Graph) SetOutputs(outlets ...OutletID) error {
	for _, o := range outlets {
		if _, err := g.outlet(o); err != nil {
			return err
		}
	}
	g.outputs = append([]OutletID(nil), outlets...)
	return nil
}

// SetInputNames redesignates the graph inputs by node name, in the given
// order. The named nodes' first outlets become the inputs.
func (g *Graph) SetInputNames(names ...string) error {
	outlets := make([]OutletID, len(names))
	for i, name := range names {
		n, err := g.NodeByName(name)
		if err != nil {
			return err
		}
		outlets[i] = OutletID{Node: n.ID}
	}
	return g.SetInputs(outlets...)
}

// SetOutputNames redesignates the graph outputs by node name.
func (g *Graph) SetOutputNames(names ...string) error {
	outlets := make([]OutletID, len(names))
	for i, name := range names {
		n, err := g.NodeByName(name)
		if err != nil {
			return err
		}
		outlets[i] = OutletID{Node: n.ID}
	}
	return g.SetOutputs(outlets...)
}

// OutletFact returns the fact attached to an outlet.
func (g *Graph) OutletFact(o OutletID) (fact.Fact, error) {
	slot, err := g.outlet(o)
	if err != nil {
		return fact.Fact{}, err
	}
	return slot.Fact, nil
}

// SetOutletFact overwrites the fact attached to an outlet.
func (g *Graph) SetOutletFact(o OutletID, f fact.Fact) error {
	slot, err := g.outlet(o)
	if err != nil {
		return err
	}
	slot.Fact = f
	return nil
}

func (g *Graph) node(id int) (*Node, error) {
	if id < 0 || id >= len(g.nodes) || g.nodes[id] == nil {
		return nil, fmt.Errorf("no node with id %d", id)
	}
	return g.nodes[id], nil
}

func (g *Graph) outlet(o OutletID) (*OutputSlot, error) {
	n, err := g.node(o.Node)
	if err != nil {
		return nil, err
	}
	if o.Slot < 0 || o.Slot >= len(n.Outputs) {
		return nil, fmt.Errorf("node %q has no output slot %d", n.Name, o.Slot)
	}
	return &n.Outputs[o.Slot], nil
}

func removeInlet(list []InletID, target InletID) []InletID {
	out := list[:0]
	removed := false
	for _, in := range list {
		if !removed && in == target {
			removed = true
			continue
		}
		out = append(out, in)
	}
	return out
}

// Check verifies graph consistency: every input edge mirrored by a successor
// back-reference and vice versa, designated inputs/outputs resolvable, and no
// cycle.
func (g *Graph) Check() error {
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for slot, in := range n.Inputs {
			src, err := g.outlet(in)
			if err != nil {
				return fmt.Errorf("node %q input %d: %w", n.Name, slot, err)
			}
			if !containsInlet(src.Successors, InletID{Node: n.ID, Slot: slot}) {
				return fmt.Errorf("node %q input %d from %s has no successor back-reference", n.Name, slot, in)
			}
		}
		for slot := range n.Outputs {
			for _, succ := range n.Outputs[slot].Successors {
				dst, err := g.node(succ.Node)
				if err != nil {
					return fmt.Errorf("outlet %d/%d successor: %w", n.ID, slot, err)
				}
				if succ.Slot >= len(dst.Inputs) || dst.Inputs[succ.Slot] != (OutletID{Node: n.ID, Slot: slot}) {
					return fmt.Errorf("outlet %d/%d successor %q/%d does not point back", n.ID, slot, dst.Name, succ.Slot)
				}
			}
		}
	}
	for _, o := range g.inputs {
		if _, err := g.outlet(o); err != nil {
			return fmt.Errorf("designated input: %w", err)
		}
	}
	for _, o := range g.outputs {
		if _, err := g.outlet(o); err != nil {
			return fmt.Errorf("designated output: %w", err)
		}
	}
	if _, err := g.EvalOrder(); err != nil {
		return err
	}
	return nil
}

func containsInlet(list []InletID, target InletID) bool {
	for _, in := range list {
		if in == target {
			return true
		}
	}
	return false
}

// EvalOrder returns all live node ids in a topological order, erroring on
// cycles.
func (g *Graph) EvalOrder() ([]int, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int8, len(g.nodes))
	order := make([]int, 0, len(g.nodes))
	var visit func(id int) error
	visit = func(id int) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("graph contains a cycle through node %q", g.nodes[id].Name)
		}
		state[id] = visiting
		for _, in := range g.nodes[id].Inputs {
			if err := visit(in.Node); err != nil {
				return err
			}
		}
		state[id] = done
		order = append(order, id)
		return nil
	}
	for id, n := range g.nodes {
		if n == nil {
			continue
		}
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Clone returns a deep copy. Op values and constant tensors are shared: both
// are immutable once attached.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		byName:  make(map[string]int, len(g.byName)),
		inputs:  append([]OutletID(nil), g.inputs...),
		outputs: append([]OutletID(nil), g.outputs...),
		nodes:   make([]*Node, len(g.nodes)),
	}
	for name, id := range g.byName {
		out.byName[name] = id
	}
	for id, n := range g.nodes {
		if n == nil {
			continue
		}
		clone := &Node{
			ID:      n.ID,
			Name:    n.Name,
			Op:      n.Op,
			Inputs:  append([]OutletID(nil), n.Inputs...),
			Outputs: make([]OutputSlot, len(n.Outputs)),
		}
		for slot := range n.Outputs {
			clone.Outputs[slot] = OutputSlot{
				Fact:       n.Outputs[slot].Fact.Clone(),
				Successors: append([]InletID(nil), n.Outputs[slot].Successors...),
			}
		}
		out.nodes[id] = clone
	}
	return out
}

// delete tombstones a node. Callers must have detached it first.
func (g *Graph) delete(id int) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	for slot := range n.Outputs {
		if len(n.Outputs[slot].Successors) != 0 {
			return fmt.Errorf("node %q still has successors", n.Name)
		}
	}
	for slot, in := range n.Inputs {
		src, err := g.outlet(in)
		if err != nil {
			return err
		}
		src.Successors = removeInlet(src.Successors, InletID{Node: id, Slot: slot})
	}
	delete(g.byName, n.Name)
	g.nodes[id] = nil
	return nil
}

// compact renumbers node ids densely, dropping tombstones and rewriting every
// edge, back-reference and designated outlet.
func (g *Graph) compact() {
	remap := make([]int, len(g.nodes))
	kept := make([]*Node, 0, len(g.nodes))
	for id, n := range g.nodes {
		if n == nil {
			remap[id] = -1
			continue
		}
		remap[id] = len(kept)
		kept = append(kept, n)
	}
	for _, n := range kept {
		n.ID = remap[n.ID]
		for i := range n.Inputs {
			n.Inputs[i].Node = remap[n.Inputs[i].Node]
		}
		for slot := range n.Outputs {
			for i := range n.Outputs[slot].Successors {
				n.Outputs[slot].Successors[i].Node = remap[n.Outputs[slot].Successors[i].Node]
			}
		}
	}
	for i := range g.inputs {
		g.inputs[i].Node = remap[g.inputs[i].Node]
	}
	for i := range g.outputs {
		g.outputs[i].Node = remap[g.outputs[i].Node]
	}
	g.nodes = kept
	g.byName = make(map[string]int, len(kept))
	for _, n := range kept {
		g.byName[n.Name] = n.ID
	}
}

// EliminateDeadBranches removes every node from which no designated output is
// reachable. Designated inputs are kept even when dead.
func (g *Graph) EliminateDeadBranches() error {
	live := make(map[int]bool)
	var mark func(id int)
	mark = func(id int) {
		if live[id] {
			return
		}
		live[id] = true
		for _, in := range g.nodes[id].Inputs {
			mark(in.Node)
		}
	}
	for _, o := range g.outputs {
		mark(o.Node)
	}
	for _, o := range g.inputs {
		mark(o.Node)
	}
	// Detach and tombstone dead nodes, consumers first.
	order, err := g.EvalOrder()
	if err != nil {
		return err
	}
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if live[id] {
			continue
		}
		if err := g.delete(id); err != nil {
			return err
		}
	}
	g.compact()
	return nil
}

// IOSig is one entry of the externally observable input/output signature.
type IOSig struct {
	Name string
	Fact fact.Fact
}

// Signature returns the ordered (name, fact) lists for designated inputs and
// outputs. Declutter and optimize must preserve it.
func (g *Graph) Signature() (inputs, outputs []IOSig) {
	for _, o := range g.inputs {
		inputs = append(inputs, IOSig{Name: g.nodes[o.Node].Name, Fact: g.nodes[o.Node].Outputs[o.Slot].Fact})
	}
	for _, o := range g.outputs {
		outputs = append(outputs, IOSig{Name: g.nodes[o.Node].Name, Fact: g.nodes[o.Node].Outputs[o.Slot].Fact})
	}
	return inputs, outputs
}

// Dump renders the graph deterministically, nodes sorted by name and edges
// referenced by source name. Two graphs that dump identically are equal up to
// id renumbering.
func (g *Graph) Dump() string {
	var names []string
	for name := range g.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		n := g.nodes[g.byName[name]]
		refs := make([]string, len(n.Inputs))
		for i, in := range n.Inputs {
			refs[i] = fmt.Sprintf("%s:%d", g.nodes[in.Node].Name, in.Slot)
		}
		facts := make([]string, len(n.Outputs))
		for i := range n.Outputs {
			facts[i] = n.Outputs[i].Fact.String()
		}
		fmt.Fprintf(&b, "%s = %s(%s) -> %s\n", name, n.Op.Name(), strings.Join(refs, ", "), strings.Join(facts, "; "))
	}
	io := func(list []OutletID) string {
		parts := make([]string, len(list))
		for i, o := range list {
			parts[i] = fmt.Sprintf("%s:%d", g.nodes[o.Node].Name, o.Slot)
		}
		return strings.Join(parts, ", ")
	}
	fmt.Fprintf(&b, "inputs: %s\noutputs: %s\n", io(g.inputs), io(g.outputs))
	return b.String()
}

// Same reports structural equality up to node id renumbering.
func Same(a, b *Graph) bool {
	return a.Dump() == b.Dump()
}
