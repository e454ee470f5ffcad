package fallback

import (
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type edge struct {
	node  *node
	index int
}

func (e edge) String() string {
	if e.index == 0 {
		return e.node.name
	}
	return e.node.name + ":" + strconv.Itoa(e.index)
}

// node is a finished operation.
type node struct {
	graph *graph
	// id is the position of the node in graph.nodes.
	id int

	name   string
	opType string
	device string
	def    *opDef
	attrs  map[string]attrValue

	inputs        []edge
	inputTypes    []engine.DataType
	inputArgs     map[string]int
	outputTypes   []engine.DataType
	outputArgs    map[string]int
	controlInputs []*node

	consumers      [][]edge
	controlOutputs []*node
}

var _ engine.Operation = (*node)(nil)

func (n *node) Name() string   { return n.name }
func (n *node) OpType() string { return n.opType }
func (n *node) Device() string { return n.device }

func (n *node) NumInputs() int  { return len(n.inputs) }
func (n *node) NumOutputs() int { return len(n.outputTypes) }

func (n *node) InputType(index int) engine.DataType {
	if index < 0 || index >= len(n.inputTypes) {
		return 0
	}
	return n.inputTypes[index]
}

func (n *node) OutputType(index int) engine.DataType {
	if index < 0 || index >= len(n.outputTypes) {
		return 0
	}
	return n.outputTypes[index]
}

func (n *node) InputSource(index int) engine.Output {
	if index < 0 || index >= len(n.inputs) {
		return engine.Output{}
	}
	in := n.inputs[index]
	return engine.Output{Op: in.node, Index: in.index}
}

func (n *node) OutputNumConsumers(index int) int {
	if index < 0 || index >= len(n.consumers) {
		return 0
	}
	return len(n.consumers[index])
}

func (n *node) OutputConsumers(index int) []engine.Input {
	if index < 0 || index >= len(n.consumers) {
		return nil
	}
	out := make([]engine.Input, len(n.consumers[index]))
	for i, c := range n.consumers[index] {
		out[i] = engine.Input{Op: c.node, Index: c.index}
	}
	return out
}

func (n *node) ControlInputs() []engine.Operation {
	return operations(n.controlInputs)
}

func (n *node) ControlOutputs() []engine.Operation {
	return operations(n.controlOutputs)
}

func (n *node) InputListLength(argName string) (int, error) {
	length, ok := n.inputArgs[argName]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "input arg '%s' not found in operation '%s'", argName, n.name)
	}
	return length, nil
}

func (n *node) OutputListLength(argName string) (int, error) {
	length, ok := n.outputArgs[argName]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "output arg '%s' not found in operation '%s'", argName, n.name)
	}
	return length, nil
}

func operations(nodes []*node) []engine.Operation {
	out := make([]engine.Operation, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}
