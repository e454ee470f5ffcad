package fallback

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type argDef struct {
	name string
	// typeAttr names the attr holding the element type; if empty, the
	// element type is fixed.
	typeAttr string
	fixed    engine.DataType
	// numberAttr, if set, makes the argument a list sized by that attr.
	numberAttr string
}

type attrDef struct {
	kind attrKind
	list bool
	def  *attrValue
}

type opDef struct {
	inputs  []argDef
	outputs []argDef
	attrs   map[string]attrDef
	// allowed restricts the values of type attrs.
	allowed map[string][]engine.DataType

	validate func(n *node) error
	shape    func(n *node, index int) shapeValue
	kernel   func(n *node, inputs []*tensor) ([]*tensor, error)
}

var numericTypes = []engine.DataType{
	engine.Float, engine.Double,
	engine.Int8, engine.Int16, engine.Int32, engine.Int64,
	engine.Uint8, engine.Uint16, engine.Uint32, engine.Uint64,
}

var signedTypes = []engine.DataType{
	engine.Float, engine.Double,
	engine.Int8, engine.Int16, engine.Int32, engine.Int64,
}

func defaultAttr(v attrValue) *attrValue { return &v }

var registry = map[string]*opDef{
	"Const": {
		outputs: []argDef{{name: "output", typeAttr: "dtype"}},
		attrs: map[string]attrDef{
			"value": {kind: attrTensor},
			"dtype": {kind: attrType},
		},
		validate: func(n *node) error {
			value := n.attrs["value"].tensors[0]
			if dtype := n.attrs["dtype"].types[0]; value.dtype != dtype {
				return status.Errorf(codes.InvalidArgument, "Const '%s': value tensor has type %v but dtype is %v", n.name, value.dtype, dtype)
			}
			return nil
		},
		shape: func(n *node, _ int) shapeValue {
			return shapeValue{dims: n.attrs["value"].tensors[0].dimensions, known: true}
		},
		kernel: func(n *node, _ []*tensor) ([]*tensor, error) {
			return []*tensor{n.attrs["value"].tensors[0].clone()}, nil
		},
	},
	"Placeholder": {
		outputs: []argDef{{name: "output", typeAttr: "dtype"}},
		attrs: map[string]attrDef{
			"dtype": {kind: attrType},
			"shape": {kind: attrShape, def: defaultAttr(attrValue{kind: attrShape, shapes: []shapeValue{{}}})},
		},
		shape: func(n *node, _ int) shapeValue {
			return n.attrs["shape"].shapes[0]
		},
		kernel: func(n *node, _ []*tensor) ([]*tensor, error) {
			return nil, status.Errorf(codes.InvalidArgument, "You must feed a value for placeholder tensor '%s' with dtype %v", n.name, n.attrs["dtype"].types[0])
		},
	},
	"Identity": {
		inputs:  []argDef{{name: "input", typeAttr: "T"}},
		outputs: []argDef{{name: "output", typeAttr: "T"}},
		attrs:   map[string]attrDef{"T": {kind: attrType}},
		shape:   sameShape,
		kernel: func(_ *node, in []*tensor) ([]*tensor, error) {
			return []*tensor{in[0].clone()}, nil
		},
	},
	"NoOp": {
		attrs: map[string]attrDef{},
		kernel: func(*node, []*tensor) ([]*tensor, error) {
			return nil, nil
		},
	},
	"Add":   binaryOp(opAdd, append([]engine.DataType{engine.String}, numericTypes...)),
	"AddV2": binaryOp(opAdd, numericTypes),
	"Sub":   binaryOp(opSub, numericTypes),
	"Mul":   binaryOp(opMul, numericTypes),
	"Neg": {
		inputs:  []argDef{{name: "x", typeAttr: "T"}},
		outputs: []argDef{{name: "y", typeAttr: "T"}},
		attrs:   map[string]attrDef{"T": {kind: attrType}},
		allowed: map[string][]engine.DataType{"T": signedTypes},
		shape:   sameShape,
		kernel: func(_ *node, in []*tensor) ([]*tensor, error) {
			return negate(in[0])
		},
	},
	"Shape": {
		inputs:  []argDef{{name: "input", typeAttr: "T"}},
		outputs: []argDef{{name: "output", typeAttr: "out_type"}},
		attrs: map[string]attrDef{
			"T":        {kind: attrType},
			"out_type": {kind: attrType, def: defaultAttr(typeAttr(engine.Int32))},
		},
		allowed: map[string][]engine.DataType{"out_type": {engine.Int32, engine.Int64}},
		shape: func(n *node, _ int) shapeValue {
			in := outputShape(n.inputs[0])
			if !in.known {
				return shapeValue{dims: []int64{-1}, known: true}
			}
			return shapeValue{dims: []int64{int64(len(in.dims))}, known: true}
		},
		kernel: func(n *node, in []*tensor) ([]*tensor, error) {
			dims := in[0].dimensions
			out, err := newTensor(n.outputTypes[0], []int64{int64(len(dims))}, n.outputTypes[0].Size()*len(dims))
			if err != nil {
				return nil, err
			}
			for i, d := range dims {
				storeWord(out.data, out.dtype, i, uint64(d))
			}
			return []*tensor{out}, nil
		},
	},
	"Size": {
		inputs:  []argDef{{name: "input", typeAttr: "T"}},
		outputs: []argDef{{name: "output", typeAttr: "out_type"}},
		attrs: map[string]attrDef{
			"T":        {kind: attrType},
			"out_type": {kind: attrType, def: defaultAttr(typeAttr(engine.Int32))},
		},
		allowed: map[string][]engine.DataType{"out_type": {engine.Int32, engine.Int64}},
		shape: func(*node, int) shapeValue {
			return shapeValue{dims: []int64{}, known: true}
		},
		kernel: func(n *node, in []*tensor) ([]*tensor, error) {
			out, err := newTensor(n.outputTypes[0], nil, n.outputTypes[0].Size())
			if err != nil {
				return nil, err
			}
			storeWord(out.data, out.dtype, 0, uint64(in[0].numElements()))
			return []*tensor{out}, nil
		},
	},
	"StringJoin": {
		inputs:  []argDef{{name: "inputs", fixed: engine.String, numberAttr: "N"}},
		outputs: []argDef{{name: "output", fixed: engine.String}},
		attrs: map[string]attrDef{
			"N":         {kind: attrInt},
			"separator": {kind: attrString, def: defaultAttr(stringAttr(""))},
		},
		validate: func(n *node) error {
			if n.attrs["N"].i[0] < 1 {
				return status.Errorf(codes.InvalidArgument, "StringJoin '%s' needs at least one input", n.name)
			}
			return nil
		},
		shape: func(n *node, _ int) shapeValue {
			out := shapeValue{dims: []int64{}, known: true}
			for _, in := range n.inputs {
				out = broadcastShapeValues(out, outputShape(in))
			}
			return out
		},
		kernel: stringJoin,
	},
}

func binaryOp(op arithmetic, allowed []engine.DataType) *opDef {
	return &opDef{
		inputs:  []argDef{{name: "x", typeAttr: "T"}, {name: "y", typeAttr: "T"}},
		outputs: []argDef{{name: "z", typeAttr: "T"}},
		attrs:   map[string]attrDef{"T": {kind: attrType}},
		allowed: map[string][]engine.DataType{"T": allowed},
		shape: func(n *node, _ int) shapeValue {
			return broadcastShapeValues(outputShape(n.inputs[0]), outputShape(n.inputs[1]))
		},
		kernel: func(_ *node, in []*tensor) ([]*tensor, error) {
			out, err := elementwise(op, in[0], in[1])
			if err != nil {
				return nil, err
			}
			return []*tensor{out}, nil
		},
	}
}

func sameShape(n *node, _ int) shapeValue {
	return outputShape(n.inputs[0])
}

// outputShape is the statically inferred shape of an edge.
func outputShape(e edge) shapeValue {
	if e.node.def.shape == nil {
		return shapeValue{}
	}
	return e.node.def.shape(e.node, e.index)
}
