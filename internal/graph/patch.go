package graph

import (
	"fmt"

	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/ops"
)

// PatchErrorKind discriminates the ways a patch can fail validation.
type PatchErrorKind int

const (
	PatchStaleOutlet PatchErrorKind = iota
	PatchDanglingInlet
	PatchCycle
	PatchDuplicateName
)

func (k PatchErrorKind) String() string {
	switch k {
	case PatchStaleOutlet:
		return "stale outlet"
	case PatchDanglingInlet:
		return "dangling inlet"
	case PatchCycle:
		return "cycle"
	case PatchDuplicateName:
		return "duplicate name"
	default:
		return "patch error"
	}
}

// PatchError reports an internally inconsistent patch. The target graph is
// guaranteed unchanged: a failing patch mutates nothing.
type PatchError struct {
	Kind PatchErrorKind
	Err  error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch rejected (%s): %v", e.Kind, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

// tapOp is the placeholder operation standing for an existing target outlet
// inside a patch's staging graph. It never survives application.
type tapOp struct{}

func (tapOp) Name() string { return "tap" }

// Patch is an atomic, composable changeset: new nodes wired in a staging
// graph, taps standing for existing outlets, shunts redirecting existing
// outlets to patch-local replacements, and explicit deletions. A patch is
// built incrementally by a rewrite rule and applied once; application is
// all-or-nothing.
type Patch struct {
	staging   *Graph
	taps      map[int]OutletID // staging node id -> target outlet
	shunts    map[OutletID]OutletID
	deletions []int
}

// NewPatch creates an empty patch.
func NewPatch() *Patch {
	return &Patch{staging: New(), taps: make(map[int]OutletID), shunts: make(map[OutletID]OutletID)}
}

// Empty reports whether applying the patch would be a no-op.
func (p *Patch) Empty() bool {
	return len(p.staging.nodes) == 0 && len(p.shunts) == 0 && len(p.deletions) == 0
}

// Tap imports an existing target outlet into the patch and returns the
// patch-local outlet standing for it. The reference is resolved at apply
// time; a stale outlet fails the whole patch then.
func (p *Patch) Tap(target OutletID) OutletID {
	id, err := p.staging.AddNode(fmt.Sprintf("tap.%d", len(p.taps)), tapOp{}, 1)
	if err != nil {
		panic(err) // tap names cannot collide
	}
	p.taps[id] = target
	return OutletID{Node: id}
}

// WireNode adds a node to the patch with its inputs already wired (to taps or
// to other patch nodes) and its output facts attached. It returns the node's
// first outlet.
func (p *Patch) WireNode(name string, op ops.Op, inputs []OutletID, facts ...fact.Fact) (OutletID, error) {
	if len(facts) == 0 {
		facts = []fact.Fact{fact.Any()}
	}
	id, err := p.staging.AddNode(name, op, len(facts))
	if err != nil {
		return OutletID{}, err
	}
	for slot, in := range inputs {
		if err := p.staging.AddEdge(in, InletID{Node: id, Slot: slot}); err != nil {
			return OutletID{}, err
		}
	}
	for slot, f := range facts {
		p.staging.nodes[id].Outputs[slot].Fact = f
	}
	return OutletID{Node: id}, nil
}

// Shunt requests that every consumer of the target outlet old (outside the
// patch itself) be rewired to the patch-local outlet repl, and that old be
// replaced in the designated outputs.
func (p *Patch) Shunt(old, repl OutletID) {
	p.shunts[old] = repl
}

// Delete marks a target node for removal. The node must end up without
// successors once shunts are applied; implicit deletion never happens.
func (p *Patch) Delete(node int) {
	p.deletions = append(p.deletions, node)
}

// Apply applies the patch to the target graph, atomically: on any validation
// failure the target is left exactly as it was. All work happens on a clone
// that replaces the target only after a full consistency check.
func (p *Patch) Apply(target *Graph) error {
	clone := target.Clone()

	// Resolve taps against the current target state.
	for id, outlet := range p.taps {
		if _, err := clone.outlet(outlet); err != nil {
			return &PatchError{Kind: PatchStaleOutlet, Err: fmt.Errorf("tap %d: %w", id, err)}
		}
	}

	// Free the names of doomed nodes so rules may reuse them.
	for _, id := range p.deletions {
		n, err := clone.node(id)
		if err != nil {
			return &PatchError{Kind: PatchStaleOutlet, Err: err}
		}
		delete(clone.byName, n.Name)
		n.Name = fmt.Sprintf("%s#dead.%d", n.Name, id)
		clone.byName[n.Name] = id
	}

	// Splice the staged nodes in, taps mapping to existing outlets.
	resolve := make(map[int]OutletID, len(p.staging.nodes)) // staging id -> clone outlet base
	added := make(map[int]bool)
	order, err := p.staging.EvalOrder()
	if err != nil {
		return &PatchError{Kind: PatchCycle, Err: err}
	}
	for _, sid := range order {
		sn := p.staging.nodes[sid]
		if outlet, isTap := p.taps[sid]; isTap {
			resolve[sid] = outlet
			continue
		}
		id, err := clone.AddNode(sn.Name, sn.Op, len(sn.Outputs))
		if err != nil {
			return &PatchError{Kind: PatchDuplicateName, Err: err}
		}
		added[id] = true
		for slot := range sn.Outputs {
			clone.nodes[id].Outputs[slot].Fact = sn.Outputs[slot].Fact.Clone()
		}
		for slot, in := range sn.Inputs {
			base, ok := resolve[in.Node]
			if !ok {
				return &PatchError{Kind: PatchDanglingInlet, Err: fmt.Errorf("node %q input %d is unwired", sn.Name, slot)}
			}
			from := OutletID{Node: base.Node, Slot: base.Slot + in.Slot}
			if _, isTap := p.taps[in.Node]; !isTap {
				from = OutletID{Node: base.Node, Slot: in.Slot}
			}
			if err := clone.AddEdge(from, InletID{Node: id, Slot: slot}); err != nil {
				return &PatchError{Kind: PatchDanglingInlet, Err: err}
			}
		}
		resolve[sid] = OutletID{Node: id}
	}

	// Rewire consumers named in shunts, leaving the patch's own wiring alone.
	for old, repl := range p.shunts {
		slot, err := clone.outlet(old)
		if err != nil {
			return &PatchError{Kind: PatchStaleOutlet, Err: err}
		}
		base, ok := resolve[repl.Node]
		if !ok {
			return &PatchError{Kind: PatchDanglingInlet, Err: fmt.Errorf("shunt of %s targets unknown patch outlet", old)}
		}
		to := OutletID{Node: base.Node, Slot: repl.Slot}
		if _, isTap := p.taps[repl.Node]; isTap {
			to = OutletID{Node: base.Node, Slot: base.Slot + repl.Slot}
		}
		for _, succ := range append([]InletID(nil), slot.Successors...) {
			if added[succ.Node] {
				continue
			}
			if err := clone.AddEdge(to, succ); err != nil {
				return &PatchError{Kind: PatchDanglingInlet, Err: err}
			}
		}
		for i, o := range clone.outputs {
			if o == old {
				clone.outputs[i] = to
			}
		}
	}

	// Explicit deletions only; anything still consumed is a rule bug.
	for _, id := range p.deletions {
		if err := clone.delete(id); err != nil {
			return &PatchError{Kind: PatchDanglingInlet, Err: err}
		}
	}

	if _, err := clone.EvalOrder(); err != nil {
		return &PatchError{Kind: PatchCycle, Err: err}
	}
	if err := clone.Check(); err != nil {
		return &PatchError{Kind: PatchDanglingInlet, Err: err}
	}
	clone.compact()
	*target = *clone
	return nil
}
