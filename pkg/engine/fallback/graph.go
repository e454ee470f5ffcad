package fallback

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type graph struct {
	nodes  []*node
	byName map[string]*node

	deleted bool
}

var _ engine.Graph = (*graph)(nil)

func newGraph() *graph {
	return &graph{
		byName: make(map[string]*node),
	}
}

func (g *graph) OperationByName(name string) engine.Operation {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	return n
}

func (g *graph) NextOperation(pos *int) engine.Operation {
	if *pos < 0 || *pos >= len(g.nodes) {
		return nil
	}
	n := g.nodes[*pos]
	*pos++
	return n
}

func (g *graph) NewOperation(opType string, name string) engine.OperationDescription {
	return &description{
		graph: g,
		spec: nodeSpec{
			opType: opType,
			name:   name,
			attrs:  make(map[string]attrValue),
		},
	}
}

func (g *graph) TensorShape(out engine.Output) ([]int64, bool, error) {
	n, err := g.node(out.Op)
	if err != nil {
		return nil, false, err
	}
	if out.Index < 0 || out.Index >= n.NumOutputs() {
		return nil, false, status.Errorf(codes.OutOfRange, "node '%s' (type: '%s', num of outputs: %d) does not have output %d", n.name, n.opType, n.NumOutputs(), out.Index)
	}
	shape := outputShape(edge{node: n, index: out.Index})
	return shape.dims, shape.known, nil
}

func (g *graph) ToGraphDef() ([]byte, error) {
	if g.deleted {
		return nil, status.Errorf(codes.FailedPrecondition, "graph has been deleted")
	}
	return marshalGraphDef(g.nodes)
}

func (g *graph) ImportGraphDef(def []byte, prefix string) error {
	if g.deleted {
		return status.Errorf(codes.FailedPrecondition, "graph has been deleted")
	}
	nodeDefs, err := unmarshalGraphDef(def)
	if err != nil {
		return err
	}
	staged, err := g.stageImport(nodeDefs, prefix)
	if err != nil {
		return err
	}
	for _, n := range staged {
		g.commit(n)
	}
	return nil
}

func (g *graph) Delete() {
	g.deleted = true
	g.nodes = nil
	g.byName = nil
}

// commit makes a validated node visible and links it to its producers.
func (g *graph) commit(n *node) {
	n.id = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.byName[n.name] = n
	for i, in := range n.inputs {
		in.node.consumers[in.index] = append(in.node.consumers[in.index], edge{node: n, index: i})
	}
	for _, c := range n.controlInputs {
		c.controlOutputs = append(c.controlOutputs, n)
	}
}

func (g *graph) node(op engine.Operation) (*node, error) {
	n, ok := op.(*node)
	if !ok || n == nil {
		return nil, status.Errorf(codes.InvalidArgument, "operation %T does not belong to the fallback engine", op)
	}
	if n.graph != g {
		return nil, status.Errorf(codes.InvalidArgument, "operation '%s' does not belong to this graph", n.name)
	}
	return n, nil
}
