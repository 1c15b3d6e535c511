// Package nnet reads the line-oriented network description format. A file is
// a sequence of node declarations, one per line:
//
//	input-node name=input dim=3
//	const-node name=w shape=3x4 values=0.1,0.2,...
//	component-node name=dense type=matmul inputs=input,w
//	output-node name=output input=dense
//
// Inputs stream along axis 0 unless a full shape= is given. '#' starts a
// comment, blank lines are skipped.
package nnet

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lijianhackthon/tract/internal/dim"
	"github.com/lijianhackthon/tract/internal/fact"
	"github.com/lijianhackthon/tract/internal/graph"
	"github.com/lijianhackthon/tract/internal/ops"
	"github.com/lijianhackthon/tract/internal/tensor"
)

// ParseError reports a malformed declaration with its 1-based line number.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func errAt(line int, format string, args ...any) error {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// ParseFile reads a network description from disk.
func ParseFile(path string) (*graph.InferenceModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse builds an inference model from a network description. Node order in
// the file must be topological: every inputs= reference resolves to an
// already-declared node.
func Parse(r io.Reader) (*graph.InferenceModel, error) {
	m := graph.NewInference()
	var inputs, outputs []graph.OutletID

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		attrs, err := parseAttrs(fields[1:], lineNo)
		if err != nil {
			return nil, err
		}
		name, ok := attrs["name"]
		if !ok {
			return nil, errAt(lineNo, "%s: missing name=", fields[0])
		}

		switch fields[0] {
		case "input-node":
			o, err := parseInput(m.Graph, name, attrs, lineNo)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, o)
		case "const-node":
			if _, err := parseConst(m.Graph, name, attrs, lineNo); err != nil {
				return nil, err
			}
		case "component-node":
			if _, err := parseComponent(m.Graph, name, attrs, lineNo); err != nil {
				return nil, err
			}
		case "output-node":
			o, err := parseOutput(m.Graph, name, attrs, lineNo)
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, o)
		default:
			return nil, errAt(lineNo, "unknown declaration %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errAt(lineNo, "no input-node declared")
	}
	if len(outputs) == 0 {
		return nil, errAt(lineNo, "no output-node declared")
	}
	if err := m.SetInputs(inputs...); err != nil {
		return nil, err
	}
	if err := m.SetOutputs(outputs...); err != nil {
		return nil, err
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseAttrs(fields []string, lineNo int) (map[string]string, error) {
	attrs := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, errAt(lineNo, "malformed attribute %q, want key=value", f)
		}
		if _, dup := attrs[k]; dup {
			return nil, errAt(lineNo, "duplicate attribute %q", k)
		}
		attrs[k] = v
	}
	return attrs, nil
}

func parseInput(g *graph.Graph, name string, attrs map[string]string, lineNo int) (graph.OutletID, error) {
	dt := tensor.Float32
	if s, ok := attrs["dtype"]; ok {
		var err error
		dt, err = tensor.ParseDataType(s)
		if err != nil {
			return graph.OutletID{}, errAt(lineNo, "input-node %s: %v", name, err)
		}
	}
	var shape dim.Shape
	switch {
	case attrs["shape"] != "":
		ints, err := parseInts(attrs["shape"], "x")
		if err != nil {
			return graph.OutletID{}, errAt(lineNo, "input-node %s: bad shape=%q", name, attrs["shape"])
		}
		for _, n := range ints {
			shape = append(shape, dim.Const(n))
		}
	case attrs["dim"] != "":
		d, err := strconv.Atoi(attrs["dim"])
		if err != nil || d <= 0 {
			return graph.OutletID{}, errAt(lineNo, "input-node %s: bad dim=%q", name, attrs["dim"])
		}
		shape = dim.Shape{dim.Stream(), dim.Const(d)}
	default:
		return graph.OutletID{}, errAt(lineNo, "input-node %s: need dim= or shape=", name)
	}

	id, err := g.AddNode(name, ops.Source{}, 1)
	if err != nil {
		return graph.OutletID{}, errAt(lineNo, "%v", err)
	}
	o := graph.OutletID{Node: id, Slot: 0}
	if err := g.SetOutletFact(o, fact.Typed(dt, shape)); err != nil {
		return graph.OutletID{}, err
	}
	return o, nil
}

func parseConst(g *graph.Graph, name string, attrs map[string]string, lineNo int) (graph.OutletID, error) {
	t, err := constTensor(attrs)
	if err != nil {
		return graph.OutletID{}, errAt(lineNo, "const-node %s: %v", name, err)
	}
	id, err := g.AddNode(name, ops.Const{Value: t}, 1)
	if err != nil {
		return graph.OutletID{}, errAt(lineNo, "%v", err)
	}
	o := graph.OutletID{Node: id, Slot: 0}
	if err := g.SetOutletFact(o, fact.Of(t)); err != nil {
		return graph.OutletID{}, err
	}
	return o, nil
}

// constTensor builds the tensor of a const-node declaration. Omitting
// shape= with a single value makes a 0-D scalar; dtype=int64 stores the
// values as integers.
func constTensor(attrs map[string]string) (*tensor.Tensor, error) {
	dt := tensor.Float32
	if s, ok := attrs["dtype"]; ok {
		var err error
		dt, err = tensor.ParseDataType(s)
		if err != nil {
			return nil, err
		}
	}
	switch dt {
	case tensor.Int64:
		ints, err := parseInts(attrs["values"], ",")
		if err != nil {
			return nil, fmt.Errorf("bad values: %w", err)
		}
		data := make([]int64, len(ints))
		for i, v := range ints {
			data[i] = int64(v)
		}
		shape, err := parseInts(attrs["shape"], "x")
		if err != nil {
			return nil, fmt.Errorf("bad shape=%q", attrs["shape"])
		}
		return tensor.FromInt64(data, tensor.Shape(shape))
	case tensor.Float32:
		values, err := parseFloats(attrs["values"])
		if err != nil {
			return nil, fmt.Errorf("bad values: %w", err)
		}
		if attrs["shape"] == "" {
			if len(values) != 1 {
				return nil, fmt.Errorf("need shape= for %d values", len(values))
			}
			return tensor.ScalarF32(values[0]), nil
		}
		shape, err := parseInts(attrs["shape"], "x")
		if err != nil {
			return nil, fmt.Errorf("bad shape=%q", attrs["shape"])
		}
		return tensor.FromFloat32(values, tensor.Shape(shape))
	default:
		return nil, fmt.Errorf("unsupported const dtype %s", dt)
	}
}

func parseComponent(g *graph.Graph, name string, attrs map[string]string, lineNo int) (graph.OutletID, error) {
	kind, ok := attrs["type"]
	if !ok {
		return graph.OutletID{}, errAt(lineNo, "component-node %s: missing type=", name)
	}
	op, arity, err := componentOp(kind, attrs, lineNo)
	if err != nil {
		return graph.OutletID{}, err
	}

	raw := attrs["inputs"]
	if raw == "" {
		raw = attrs["input"]
	}
	if raw == "" {
		return graph.OutletID{}, errAt(lineNo, "component-node %s: missing inputs=", name)
	}
	refs := strings.Split(raw, ",")
	if len(refs) != arity {
		return graph.OutletID{}, errAt(lineNo, "component-node %s: type %s wants %d inputs, got %d", name, kind, arity, len(refs))
	}

	id, err := g.AddNode(name, op, 1)
	if err != nil {
		return graph.OutletID{}, errAt(lineNo, "%v", err)
	}
	for slot, ref := range refs {
		src, err := g.NodeByName(strings.TrimSpace(ref))
		if err != nil {
			return graph.OutletID{}, errAt(lineNo, "component-node %s: unknown input %q", name, ref)
		}
		from := graph.OutletID{Node: src.ID, Slot: 0}
		to := graph.InletID{Node: id, Slot: slot}
		if err := g.AddEdge(from, to); err != nil {
			return graph.OutletID{}, err
		}
	}
	return graph.OutletID{Node: id, Slot: 0}, nil
}

func componentOp(kind string, attrs map[string]string, lineNo int) (ops.Op, int, error) {
	switch kind {
	case "matmul":
		return ops.MatMul{}, 2, nil
	case "add", "sub", "mul", "div":
		kinds := map[string]ops.BinKind{"add": ops.Add, "sub": ops.Sub, "mul": ops.Mul, "div": ops.Div}
		return ops.Binary{Kind: kinds[kind]}, 2, nil
	case "identity":
		return ops.Identity{}, 1, nil
	case "conv1d":
		kernel, err := parseFloats(attrs["kernel"])
		if err != nil || len(kernel) == 0 {
			return nil, 0, errAt(lineNo, "conv1d: bad kernel=%q", attrs["kernel"])
		}
		return ops.Conv1D{Kernel: kernel}, 1, nil
	case "delay":
		d, err := strconv.Atoi(attrs["frames"])
		if err != nil || d < 0 {
			return nil, 0, errAt(lineNo, "delay: bad frames=%q", attrs["frames"])
		}
		return ops.Delay{D: d}, 1, nil
	case "cumsum":
		return ops.CumSum{}, 1, nil
	case "pad":
		axis, before, after, err := intAttrs(attrs, "axis", "before", "after")
		if err != nil {
			return nil, 0, errAt(lineNo, "pad: %v", err)
		}
		mode := ops.PadZero
		if attrs["mode"] == "edge" {
			mode = ops.PadEdge
		}
		return ops.Pad{Axis: axis, Before: before, After: after, Mode: mode}, 1, nil
	case "downsample":
		axis, err := strconv.Atoi(attrs["axis"])
		if err != nil {
			return nil, 0, errAt(lineNo, "downsample: bad axis=%q", attrs["axis"])
		}
		stride, err := strconv.Atoi(attrs["stride"])
		if err != nil || stride <= 0 {
			return nil, 0, errAt(lineNo, "downsample: bad stride=%q", attrs["stride"])
		}
		return ops.Downsample{Axis: axis, Stride: stride}, 1, nil
	default:
		return nil, 0, errAt(lineNo, "unknown component type %q", kind)
	}
}

func parseOutput(g *graph.Graph, name string, attrs map[string]string, lineNo int) (graph.OutletID, error) {
	ref := attrs["input"]
	if ref == "" {
		return graph.OutletID{}, errAt(lineNo, "output-node %s: missing input=", name)
	}
	src, err := g.NodeByName(ref)
	if err != nil {
		return graph.OutletID{}, errAt(lineNo, "output-node %s: unknown input %q", name, ref)
	}
	id, err := g.AddNode(name, ops.Identity{}, 1)
	if err != nil {
		return graph.OutletID{}, errAt(lineNo, "%v", err)
	}
	from := graph.OutletID{Node: src.ID, Slot: 0}
	if err := g.AddEdge(from, graph.InletID{Node: id, Slot: 0}); err != nil {
		return graph.OutletID{}, err
	}
	return graph.OutletID{Node: id, Slot: 0}, nil
}

func intAttrs(attrs map[string]string, keys ...string) (int, int, int, error) {
	var out [3]int
	for i, k := range keys {
		v, err := strconv.Atoi(attrs[k])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("bad %s=%q", k, attrs[k])
		}
		out[i] = v
	}
	return out[0], out[1], out[2], nil
}

func parseInts(s, sep string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty list")
	}
	parts := strings.Split(s, sep)
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func parseFloats(s string) ([]float32, error) {
	if s == "" {
		return nil, fmt.Errorf("empty list")
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}
