package tf

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// Operation is a finished node of a Graph. The Graph returns the same
// *Operation every time it hands out a given node.
type Operation struct {
	c     engine.Operation
	graph *Graph
}

func (op *Operation) Name() string   { return op.c.Name() }
func (op *Operation) Type() string   { return op.c.OpType() }
func (op *Operation) Device() string { return op.c.Device() }

func (op *Operation) NumInputs() int  { return op.c.NumInputs() }
func (op *Operation) NumOutputs() int { return op.c.NumOutputs() }

// Output returns the i-th output of op.
func (op *Operation) Output(i int) Output {
	return Output{Op: op, Index: i}
}

// Input returns the i-th input slot of op.
func (op *Operation) Input(i int) Input {
	return Input{Op: op, Index: i}
}

// ControlInputs returns the operations that must run before op. They are
// not part of its data inputs.
func (op *Operation) ControlInputs() []*Operation {
	return op.graph.wrapAll(op.c.ControlInputs())
}

// ControlOutputs returns the operations that must run after op.
func (op *Operation) ControlOutputs() []*Operation {
	return op.graph.wrapAll(op.c.ControlOutputs())
}

// InputListSize returns the number of tensors bound to the named input
// argument, 1 for a single-tensor argument.
func (op *Operation) InputListSize(arg string) (int, error) {
	return op.c.InputListLength(arg)
}

// OutputListSize returns the number of tensors produced for the named output
// argument.
func (op *Operation) OutputListSize(arg string) (int, error) {
	return op.c.OutputListLength(arg)
}

func (op *Operation) String() string {
	return op.Name() + " (" + op.Type() + ")"
}

// OpInput is an input of OpSpec: an Output for a single-tensor argument or
// an OutputList for a list argument.
type OpInput interface {
	canBeAnInput()
}

// Output is an edge produced by an operation. The zero Output refers to no
// operation: it has no type, no shape and no consumers.
type Output struct {
	Op    *Operation
	Index int
}

func (Output) canBeAnInput() {}

// OutputList feeds a list argument, such as the inputs of StringJoin.
type OutputList []Output

func (OutputList) canBeAnInput() {}

// DataType returns the element type of p, or 0 for the zero Output.
func (p Output) DataType() DataType {
	if p.Op == nil {
		return 0
	}
	return p.Op.c.OutputType(p.Index)
}

// Shape returns what the graph knows about the shape of p. The rank and
// any dimension may be unknown.
func (p Output) Shape() (Shape, error) {
	if p.Op == nil {
		return Shape{}, status.Errorf(codes.InvalidArgument, "output has no operation")
	}
	if p.Op.graph.c == nil {
		return Shape{}, status.Error(codes.FailedPrecondition, "graph has been closed")
	}
	out, err := p.native(p.Op.graph)
	if err != nil {
		return Shape{}, err
	}
	dims, known, err := p.Op.graph.c.TensorShape(out)
	if err != nil {
		return Shape{}, err
	}
	if !known {
		return UnknownShape(), nil
	}
	return MakeShape(dims...), nil
}

func (p Output) NumConsumers() int {
	if p.Op == nil {
		return 0
	}
	return p.Op.c.OutputNumConsumers(p.Index)
}

// Consumers returns the inputs fed by p, in no particular order.
func (p Output) Consumers() []Input {
	if p.Op == nil {
		return nil
	}
	consumers := p.Op.c.OutputConsumers(p.Index)
	out := make([]Input, len(consumers))
	for i, c := range consumers {
		out[i] = Input{Op: p.Op.graph.wrap(c.Op), Index: c.Index}
	}
	return out
}

func (p Output) String() string {
	if p.Op == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%d", p.Op.Name(), p.Index)
}

// native checks that p belongs to g and returns the engine edge.
func (p Output) native(g *Graph) (engine.Output, error) {
	if p.Op == nil {
		return engine.Output{}, status.Errorf(codes.InvalidArgument, "output has no operation")
	}
	if p.Op.graph != g {
		return engine.Output{}, status.Errorf(codes.InvalidArgument, "operation %q belongs to another graph", p.Op.Name())
	}
	if p.Index < 0 || p.Index >= p.Op.NumOutputs() {
		return engine.Output{}, status.Errorf(codes.OutOfRange, "operation %q has %d outputs, not %d", p.Op.Name(), p.Op.NumOutputs(), p.Index+1)
	}
	return engine.Output{Op: p.Op.c, Index: p.Index}, nil
}

// Input is an input slot of an operation.
type Input struct {
	Op    *Operation
	Index int
}

func (p Input) DataType() DataType {
	return p.Op.c.InputType(p.Index)
}

// Producer returns the output feeding p.
func (p Input) Producer() Output {
	src := p.Op.c.InputSource(p.Index)
	return Output{Op: p.Op.graph.wrap(src.Op), Index: src.Index}
}
