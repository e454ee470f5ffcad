package tf

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// Graph is a dataflow graph under construction. Operations are only ever
// added; a Graph is not safe for concurrent mutation.
type Graph struct {
	engine engine.Engine
	c      engine.Graph

	// names holds, per requested name, the next suffix to try when that
	// name is already taken.
	names map[string]int
	ops   map[engine.Operation]*Operation
}

// OpSpec describes an operation to add to a graph.
type OpSpec struct {
	// Type is the registered operation type, e.g. "Add".
	Type string
	// Name defaults to Type. If the name is taken, a "_N" suffix is added.
	Name string

	Input               []OpInput
	ControlDependencies []*Operation
	// Attrs values go through ToAttrValue.
	Attrs  map[string]any
	Device string
}

// NewGraph returns an empty graph on DefaultEngine.
func NewGraph() *Graph {
	return NewGraphWithEngine(defaultEngine)
}

func NewGraphWithEngine(e engine.Engine) *Graph {
	return &Graph{
		engine: e,
		c:      e.NewGraph(),
		names:  make(map[string]int),
		ops:    make(map[engine.Operation]*Operation),
	}
}

// Engine returns the engine the graph lives on.
func (g *Graph) Engine() engine.Engine {
	return g.engine
}

type namedAttr struct {
	name  string
	value AttrValue
}

// AddOperation validates spec and adds it to the graph as one unit: on
// error the graph is unchanged.
func (g *Graph) AddOperation(spec OpSpec) (*Operation, error) {
	if g.c == nil {
		return nil, status.Error(codes.FailedPrecondition, "graph has been closed")
	}

	// Everything that can be checked without the engine is checked before
	// a description is started.
	keys := make([]string, 0, len(spec.Attrs))
	for k := range spec.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]namedAttr, 0, len(keys))
	for _, k := range keys {
		v, err := ToAttrValue(spec.Attrs[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		if err := checkTensors(v); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		attrs = append(attrs, namedAttr{name: k, value: v})
	}

	type input struct {
		single engine.Output
		list   []engine.Output
		isList bool
	}
	inputs := make([]input, 0, len(spec.Input))
	for i, in := range spec.Input {
		switch in := in.(type) {
		case Output:
			out, err := in.native(g)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
			inputs = append(inputs, input{single: out})
		case OutputList:
			list := make([]engine.Output, len(in))
			for j, o := range in {
				out, err := o.native(g)
				if err != nil {
					return nil, fmt.Errorf("input %d[%d]: %w", i, j, err)
				}
				list[j] = out
			}
			inputs = append(inputs, input{list: list, isList: true})
		default:
			return nil, status.Errorf(codes.InvalidArgument, "input %d: unsupported input %T", i, in)
		}
	}
	for _, dep := range spec.ControlDependencies {
		if dep == nil || dep.graph != g {
			return nil, status.Errorf(codes.InvalidArgument, "control dependency %v is not in this graph", dep)
		}
	}

	base := spec.Name
	if base == "" {
		base = spec.Type
	}
	name, next := g.uniqueName(base)

	d := g.c.NewOperation(spec.Type, name)
	for _, in := range inputs {
		if in.isList {
			d.AddInputList(in.list)
		} else {
			d.AddInput(in.single)
		}
	}
	for _, dep := range spec.ControlDependencies {
		d.AddControlInput(dep.c)
	}
	if spec.Device != "" {
		d.SetDevice(spec.Device)
	}
	for _, a := range attrs {
		if err := setAttr(d, a.name, a.value); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", a.name, err)
		}
	}
	c, err := d.Finish()
	if err != nil {
		return nil, err
	}
	if next > 0 {
		g.names[base] = next
	}
	klog.V(4).InfoS("Added operation", "name", name, "type", spec.Type)
	return g.wrap(c), nil
}

// uniqueName returns base if it is free, otherwise base_N for the smallest
// free N not below the last suffix handed out. next is the counter to store
// once the name is actually used, or 0 if base itself was free.
func (g *Graph) uniqueName(base string) (name string, next int) {
	if g.c.OperationByName(base) == nil {
		return base, 0
	}
	n := max(g.names[base], 1)
	for {
		name = base + "_" + strconv.Itoa(n)
		if g.c.OperationByName(name) == nil {
			return name, n + 1
		}
		n++
	}
}

func checkTensors(v AttrValue) error {
	switch v := v.(type) {
	case AttrTensor:
		_, err := v.Tensor.native()
		return err
	case AttrTensorList:
		for _, t := range v {
			if _, err := t.native(); err != nil {
				return err
			}
		}
	}
	return nil
}

// wrap returns the Operation for c, creating it on first use so that every
// lookup of a node yields the same pointer.
func (g *Graph) wrap(c engine.Operation) *Operation {
	if c == nil {
		return nil
	}
	if op, ok := g.ops[c]; ok {
		return op
	}
	op := &Operation{c: c, graph: g}
	g.ops[c] = op
	return op
}

func (g *Graph) wrapAll(cs []engine.Operation) []*Operation {
	out := make([]*Operation, len(cs))
	for i, c := range cs {
		out[i] = g.wrap(c)
	}
	return out
}

// Operation returns the operation with the given name, or nil.
func (g *Graph) Operation(name string) *Operation {
	if g.c == nil {
		return nil
	}
	return g.wrap(g.c.OperationByName(name))
}

// Operations returns every operation in the graph, in the order the engine
// iterates them. The fallback engine keeps insertion order; the native
// library makes no such promise.
func (g *Graph) Operations() []*Operation {
	ops := []*Operation{}
	if g.c == nil {
		return ops
	}
	pos := 0
	for {
		c := g.c.NextOperation(&pos)
		if c == nil {
			return ops
		}
		ops = append(ops, g.wrap(c))
	}
}

// Export serializes the graph as a GraphDef.
func (g *Graph) Export() ([]byte, error) {
	if g.c == nil {
		return nil, status.Error(codes.FailedPrecondition, "graph has been closed")
	}
	return g.c.ToGraphDef()
}

// WriteTo writes the serialized GraphDef to w.
func (g *Graph) WriteTo(w io.Writer) (int64, error) {
	def, err := g.Export()
	if err != nil {
		return 0, err
	}
	return bytes.NewReader(def).WriteTo(w)
}

// Import merges a serialized GraphDef into g, prefixing every imported name
// with prefix and "/" when prefix is not empty. Either every node is
// imported or none is.
func (g *Graph) Import(def []byte, prefix string) error {
	if g.c == nil {
		return status.Error(codes.FailedPrecondition, "graph has been closed")
	}
	if err := g.c.ImportGraphDef(def, prefix); err != nil {
		return err
	}
	klog.V(2).InfoS("Imported graph", "bytes", len(def), "prefix", prefix)
	return nil
}

// ImportFrom reads a serialized GraphDef from r and imports it.
func (g *Graph) ImportFrom(r io.Reader, prefix string) error {
	def, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading graph: %w", err)
	}
	return g.Import(def, prefix)
}

// Close releases the native graph. Sessions on it must be closed first.
func (g *Graph) Close() error {
	if g.c == nil {
		return nil
	}
	g.c.Delete()
	g.c = nil
	return nil
}
