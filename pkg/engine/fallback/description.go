package fallback

import (
	"maps"
	"slices"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// inputGroup is what one AddInput or AddInputList call contributed.
type inputGroup struct {
	edges []edge
	list  bool
}

// nodeSpec is everything needed to build a node, from a description or
// from an imported NodeDef.
type nodeSpec struct {
	opType   string
	name     string
	device   string
	inputs   []inputGroup
	controls []*node
	attrs    map[string]attrValue
}

type description struct {
	graph *graph
	spec  nodeSpec

	// err is the first problem seen while populating; Finish reports it.
	err      error
	finished bool
}

var _ engine.OperationDescription = (*description)(nil)

func (d *description) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *description) edge(out engine.Output) (edge, bool) {
	n, ok := out.Op.(*node)
	if !ok || n == nil || n.graph != d.graph {
		d.fail(status.Errorf(codes.InvalidArgument, "input to '%s' is not an operation of this graph", d.spec.name))
		return edge{}, false
	}
	if out.Index < 0 || out.Index >= n.NumOutputs() {
		d.fail(status.Errorf(codes.OutOfRange, "node '%s' (type: '%s', num of outputs: %d) does not have output %d", n.name, n.opType, n.NumOutputs(), out.Index))
		return edge{}, false
	}
	return edge{node: n, index: out.Index}, true
}

func (d *description) AddInput(in engine.Output) {
	e, ok := d.edge(in)
	if !ok {
		return
	}
	d.spec.inputs = append(d.spec.inputs, inputGroup{edges: []edge{e}})
}

func (d *description) AddInputList(ins []engine.Output) {
	group := inputGroup{list: true}
	for _, in := range ins {
		e, ok := d.edge(in)
		if !ok {
			return
		}
		group.edges = append(group.edges, e)
	}
	d.spec.inputs = append(d.spec.inputs, group)
}

func (d *description) AddControlInput(op engine.Operation) {
	n, ok := op.(*node)
	if !ok || n == nil || n.graph != d.graph {
		d.fail(status.Errorf(codes.InvalidArgument, "control input to '%s' is not an operation of this graph", d.spec.name))
		return
	}
	d.spec.controls = append(d.spec.controls, n)
}

func (d *description) SetDevice(device string) {
	d.spec.device = device
}

func (d *description) set(name string, v attrValue) {
	d.spec.attrs[name] = v
}

func (d *description) SetAttrString(name string, value string) {
	d.set(name, stringAttr(value))
}

func (d *description) SetAttrStringList(name string, values []string) {
	d.set(name, attrValue{kind: attrString, list: true, s: slices.Clone(values)})
}

func (d *description) SetAttrInt(name string, value int64) {
	d.set(name, intAttr(value))
}

func (d *description) SetAttrIntList(name string, values []int64) {
	d.set(name, attrValue{kind: attrInt, list: true, i: slices.Clone(values)})
}

func (d *description) SetAttrFloat(name string, value float32) {
	d.set(name, attrValue{kind: attrFloat, f: []float32{value}})
}

func (d *description) SetAttrFloatList(name string, values []float32) {
	d.set(name, attrValue{kind: attrFloat, list: true, f: slices.Clone(values)})
}

func (d *description) SetAttrBool(name string, value bool) {
	d.set(name, attrValue{kind: attrBool, b: []bool{value}})
}

func (d *description) SetAttrBoolList(name string, values []bool) {
	d.set(name, attrValue{kind: attrBool, list: true, b: slices.Clone(values)})
}

func (d *description) SetAttrType(name string, value engine.DataType) {
	d.set(name, typeAttr(value))
}

func (d *description) SetAttrTypeList(name string, values []engine.DataType) {
	d.set(name, attrValue{kind: attrType, list: true, types: slices.Clone(values)})
}

func (d *description) SetAttrShape(name string, dims []int64, numDims int) {
	d.set(name, attrValue{kind: attrShape, shapes: []shapeValue{makeShapeValue(dims, numDims)}})
}

func (d *description) SetAttrShapeList(name string, dims [][]int64, numDims []int) {
	shapes := make([]shapeValue, len(dims))
	for i := range dims {
		shapes[i] = makeShapeValue(dims[i], numDims[i])
	}
	d.set(name, attrValue{kind: attrShape, list: true, shapes: shapes})
}

func makeShapeValue(dims []int64, numDims int) shapeValue {
	if numDims < 0 {
		return shapeValue{}
	}
	return shapeValue{dims: slices.Clone(dims[:numDims]), known: true}
}

func (d *description) SetAttrTensor(name string, value engine.Tensor) error {
	t, err := asTensor(value)
	if err != nil {
		return err
	}
	d.set(name, attrValue{kind: attrTensor, tensors: []*tensor{t.clone()}})
	return nil
}

func (d *description) SetAttrTensorList(name string, values []engine.Tensor) error {
	tensors := make([]*tensor, len(values))
	for i, v := range values {
		t, err := asTensor(v)
		if err != nil {
			return err
		}
		tensors[i] = t.clone()
	}
	d.set(name, attrValue{kind: attrTensor, list: true, tensors: tensors})
	return nil
}

func (d *description) SetAttrFuncName(name string, value string) {
	d.set(name, attrValue{kind: attrFunc, s: []string{value}})
}

func (d *description) SetAttrFuncNameList(name string, values []string) error {
	d.set(name, attrValue{kind: attrFunc, list: true, s: slices.Clone(values)})
	return nil
}

func (d *description) Finish() (engine.Operation, error) {
	if d.finished {
		return nil, status.Errorf(codes.FailedPrecondition, "operation '%s' has already been finished", d.spec.name)
	}
	d.finished = true
	if d.err != nil {
		return nil, d.err
	}
	if d.graph.deleted {
		return nil, status.Errorf(codes.FailedPrecondition, "graph has been deleted")
	}

	g := d.graph
	n, err := g.buildNode(d.spec, func(name string) bool {
		_, found := g.byName[name]
		return found
	})
	if err != nil {
		return nil, err
	}
	g.commit(n)
	return n, nil
}

// buildNode validates spec against the op registry. It does not modify the
// graph; exists reports whether a node name is already taken.
func (g *graph) buildNode(spec nodeSpec, exists func(string) bool) (*node, error) {
	def, ok := registry[spec.opType]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Op type not registered '%s'", spec.opType)
	}
	if !validNodeName(spec.name) {
		return nil, status.Errorf(codes.InvalidArgument, "Node name '%s' is not valid", spec.name)
	}
	if exists(spec.name) {
		return nil, status.Errorf(codes.InvalidArgument, "Duplicate node name in graph: '%s'", spec.name)
	}

	n := &node{
		graph:         g,
		name:          spec.name,
		opType:        spec.opType,
		device:        spec.device,
		def:           def,
		attrs:         maps.Clone(spec.attrs),
		inputArgs:     make(map[string]int),
		outputArgs:    make(map[string]int),
		controlInputs: slices.Clone(spec.controls),
	}
	if n.attrs == nil {
		n.attrs = make(map[string]attrValue)
	}

	for _, name := range slices.Sorted(maps.Keys(n.attrs)) {
		v := n.attrs[name]
		ad, ok := def.attrs[name]
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "NodeDef '%s' mentions attr '%s' not in Op<name=%s>", n.name, name, n.opType)
		}
		if ad.kind != v.kind || ad.list != v.list {
			return nil, status.Errorf(codes.InvalidArgument, "attr '%s' of '%s' has kind %s, expected %s", name, n.name, kindName(v.kind, v.list), kindName(ad.kind, ad.list))
		}
	}

	if len(spec.inputs) != len(def.inputs) {
		return nil, status.Errorf(codes.InvalidArgument, "operation '%s' of type %s expects %d inputs, got %d", n.name, n.opType, len(def.inputs), len(spec.inputs))
	}
	for i, arg := range def.inputs {
		group := spec.inputs[i]
		if arg.numberAttr != "" {
			if !group.list {
				return nil, status.Errorf(codes.InvalidArgument, "input '%s' of '%s' expects a list of tensors", arg.name, n.name)
			}
			if err := n.setOrCheckInt(arg.numberAttr, int64(len(group.edges))); err != nil {
				return nil, err
			}
		} else if group.list {
			return nil, status.Errorf(codes.InvalidArgument, "input '%s' of '%s' expects a single tensor, got a list", arg.name, n.name)
		}
		n.inputArgs[arg.name] = len(group.edges)
		for _, e := range group.edges {
			dt := e.node.outputTypes[e.index]
			if arg.typeAttr != "" {
				if err := n.setOrCheckType(arg.typeAttr, dt); err != nil {
					return nil, err
				}
			} else if dt != arg.fixed {
				return nil, status.Errorf(codes.InvalidArgument, "input %d of '%s' expects type %v, got %v", len(n.inputs), n.name, arg.fixed, dt)
			}
			n.inputs = append(n.inputs, e)
			n.inputTypes = append(n.inputTypes, dt)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(def.attrs)) {
		if _, ok := n.attrs[name]; ok {
			continue
		}
		ad := def.attrs[name]
		if ad.def == nil {
			return nil, status.Errorf(codes.InvalidArgument, "NodeDef '%s' missing attr '%s' from Op<name=%s>", n.name, name, n.opType)
		}
		n.attrs[name] = *ad.def
	}

	for _, name := range slices.Sorted(maps.Keys(def.allowed)) {
		dt := n.attrs[name].types[0]
		if !slices.Contains(def.allowed[name], dt) {
			return nil, status.Errorf(codes.InvalidArgument, "value for attr '%s' of %v is not in the list of allowed values for '%s' (%s)", name, dt, n.name, n.opType)
		}
	}

	for _, arg := range def.outputs {
		count := 1
		if arg.numberAttr != "" {
			count = int(n.attrs[arg.numberAttr].i[0])
		}
		dt := arg.fixed
		if arg.typeAttr != "" {
			dt = n.attrs[arg.typeAttr].types[0]
		}
		n.outputArgs[arg.name] = count
		for range count {
			n.outputTypes = append(n.outputTypes, dt)
		}
	}
	n.consumers = make([][]edge, len(n.outputTypes))

	if def.validate != nil {
		if err := def.validate(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *node) setOrCheckType(attr string, dt engine.DataType) error {
	if v, ok := n.attrs[attr]; ok {
		if v.types[0] != dt {
			return status.Errorf(codes.InvalidArgument, "inconsistent values for attr '%s' %v vs. %v while building NodeDef '%s'", attr, v.types[0], dt, n.name)
		}
		return nil
	}
	n.attrs[attr] = typeAttr(dt)
	return nil
}

func (n *node) setOrCheckInt(attr string, value int64) error {
	if v, ok := n.attrs[attr]; ok {
		if v.i[0] != value {
			return status.Errorf(codes.InvalidArgument, "inconsistent values for attr '%s' %d vs. %d while building NodeDef '%s'", attr, v.i[0], value, n.name)
		}
		return nil
	}
	n.attrs[attr] = intAttr(value)
	return nil
}

func kindName(kind attrKind, list bool) string {
	if list {
		return "list(" + kind.String() + ")"
	}
	return kind.String()
}

// validNodeName matches [A-Za-z0-9.][A-Za-z0-9_.\-/>]*.
func validNodeName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.':
		case i > 0 && (c == '_' || c == '-' || c == '/' || c == '>'):
		default:
			return false
		}
	}
	return true
}
