// Package analyser implements fixed-point shape and type inference over a
// partially-specified graph.
//
// It keeps a work queue of nodes whose surrounding facts changed and asks
// each node's operation to propagate knowledge both forward and backward,
// unifying the result into the graph until nothing moves. Unification is
// monotone with finite ascent per fact field, so the loop terminates.
package analyser

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
)

// Errors collects the independent conflicts found in one analysis pass when
// fail-fast is off.
type Errors []error

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d analysis errors: %s", len(e), strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e Errors) Unwrap() []error {
	return e
}

// Analyse runs bidirectional fact propagation to a fixed point. With
// failFast, the first incompatible unification aborts; otherwise all
// reachable conflicts are collected and returned together as Errors.
// Unresolved (still partial) facts at the fixed point are not an error here;
// only type lowering requires full specification.
func Analyse(m *graph.InferenceModel, failFast bool) error {
	var collected Errors
	fail := func(err error) error {
		if failFast {
			return err
		}
		collected = append(collected, err)
		return nil
	}

	nodes := m.Nodes()
	queued := make(map[int]bool, len(nodes))
	queue := make([]int, 0, len(nodes))
	push := func(id int) {
		if !queued[id] {
			queued[id] = true
			queue = append(queue, id)
		}
	}
	for _, n := range nodes {
		push(n.ID)
	}

	// merge unifies a proposed fact into an outlet, requeueing the outlet's
	// producer and consumers when knowledge grew.
	merge := func(outlet graph.OutletID, proposed fact.Fact, context string) error {
		current, err := m.OutletFact(outlet)
		if err != nil {
			return err
		}
		unified, err := fact.Unify(current, proposed)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", context, err))
		}
		if unified.Equal(current) {
			return nil
		}
		if err := m.SetOutletFact(outlet, unified); err != nil {
			return err
		}
		logrus.Debugf("analyse: %s refined to %s", outlet, unified)
		push(outlet.Node)
		n := m.Node(outlet.Node)
		for _, succ := range n.Outputs[outlet.Slot].Successors {
			push(succ.Node)
		}
		return nil
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		queued[id] = false

		node := m.Node(id)
		inferrer, ok := node.Op.(ops.Inferrer)
		if !ok {
			continue
		}

		inFacts := make([]fact.Fact, len(node.Inputs))
		for slot, in := range node.Inputs {
			f, err := m.OutletFact(in)
			if err != nil {
				return err
			}
			inFacts[slot] = f
		}
		outFacts := make([]fact.Fact, len(node.Outputs))
		for slot := range node.Outputs {
			outFacts[slot] = node.Outputs[slot].Fact
		}

		newIns, newOuts, err := inferrer.Infer(inFacts, outFacts)
		if err != nil {
			if err := fail(fmt.Errorf("inferring %q (%s): %w", node.Name, node.Op.Name(), err)); err != nil {
				return err
			}
			continue
		}
		for slot, f := range newIns {
			if err := merge(node.Inputs[slot], f, fmt.Sprintf("node %q input %d", node.Name, slot)); err != nil {
				return err
			}
		}
		for slot, f := range newOuts {
			if err := merge(graph.OutletID{Node: id, Slot: slot}, f, fmt.Sprintf("node %q output %d", node.Name, slot)); err != nil {
				return err
			}
		}
	}

	if len(collected) > 0 {
		return collected
	}
	return nil
}
