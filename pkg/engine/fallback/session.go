package fallback

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

const (
	cpuDeviceName        = "/job:localhost/replica:0/task:0/device:CPU:0"
	cpuDeviceMemoryLimit = 268435456
)

type session struct {
	graph *graph

	closed  bool
	deleted bool
}

var _ engine.Session = (*session)(nil)

// runNode adapts a node to engine.BuildDAG. Edges that are fed do not count
// as dependencies.
type runNode struct {
	n            *node
	dependencies []int
}

func (r runNode) NodeID() int         { return r.n.id }
func (r runNode) Dependencies() []int { return r.dependencies }

func (s *session) Run(feeds []engine.Output, feedValues []engine.Tensor, fetches []engine.Output, targets []engine.Operation) ([]engine.Tensor, error) {
	if s.closed || s.deleted {
		return nil, status.Errorf(codes.FailedPrecondition, "Session has been closed.")
	}
	if len(feeds) != len(feedValues) {
		return nil, status.Errorf(codes.InvalidArgument, "%d feeds but %d feed values", len(feeds), len(feedValues))
	}

	fed := make(map[edge]*tensor, len(feeds))
	for i, f := range feeds {
		e, err := s.edge(f)
		if err != nil {
			return nil, err
		}
		t, err := asTensor(feedValues[i])
		if err != nil {
			return nil, err
		}
		if want := e.node.outputTypes[e.index]; t.dtype != want {
			return nil, status.Errorf(codes.InvalidArgument, "tensor fed to %s has type %v, expected %v", e, t.dtype, want)
		}
		if _, dup := fed[e]; dup {
			return nil, status.Errorf(codes.InvalidArgument, "%s fed more than once", e)
		}
		fed[e] = t
	}

	fetchEdges := make([]edge, len(fetches))
	for i, f := range fetches {
		e, err := s.edge(f)
		if err != nil {
			return nil, err
		}
		fetchEdges[i] = e
	}
	targetNodes := make([]*node, len(targets))
	for i, op := range targets {
		n, err := s.graph.node(op)
		if err != nil {
			return nil, err
		}
		targetNodes[i] = n
	}

	order, err := s.plan(fed, fetchEdges, targetNodes)
	if err != nil {
		return nil, err
	}

	values := make(map[edge]*tensor)
	for _, n := range order {
		inputs := make([]*tensor, len(n.inputs))
		for i, in := range n.inputs {
			if t, ok := fed[in]; ok {
				inputs[i] = t
			} else {
				inputs[i] = values[in]
			}
		}
		outputs, err := n.def.kernel(n, inputs)
		if err != nil {
			return nil, status.Errorf(status.Code(err), "%s\n\t [[{{node %s}}]]", status.Convert(err).Message(), n.name)
		}
		if len(outputs) != n.NumOutputs() {
			return nil, status.Errorf(codes.Internal, "kernel for '%s' produced %d outputs, expected %d", n.name, len(outputs), n.NumOutputs())
		}
		for i, t := range outputs {
			values[edge{node: n, index: i}] = t
		}
	}

	results := make([]engine.Tensor, len(fetchEdges))
	for i, e := range fetchEdges {
		if t, ok := fed[e]; ok {
			results[i] = t.clone()
		} else {
			results[i] = values[e].clone()
		}
	}
	return results, nil
}

// plan returns the nodes needed for fetches and targets, in evaluation
// order, stopping at fed edges.
func (s *session) plan(fed map[edge]*tensor, fetches []edge, targets []*node) ([]*node, error) {
	needed := make(map[*node]bool)
	var pending []*node
	want := func(n *node) {
		if !needed[n] {
			needed[n] = true
			pending = append(pending, n)
		}
	}
	for _, e := range fetches {
		if _, ok := fed[e]; !ok {
			want(e.node)
		}
	}
	for _, n := range targets {
		want(n)
	}

	var nodes []runNode
	for len(pending) > 0 {
		n := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		r := runNode{n: n}
		for _, in := range n.inputs {
			if _, ok := fed[in]; ok {
				continue
			}
			want(in.node)
			r.dependencies = append(r.dependencies, in.node.id)
		}
		for _, c := range n.controlInputs {
			want(c)
			r.dependencies = append(r.dependencies, c.id)
		}
		nodes = append(nodes, r)
	}

	wantIDs := make([]int, len(nodes))
	byID := make(map[int]*node, len(nodes))
	for i, r := range nodes {
		wantIDs[i] = r.n.id
		byID[r.n.id] = r.n
	}
	ids, err := engine.BuildDAG(nodes, wantIDs)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	order := make([]*node, len(ids))
	for i, id := range ids {
		order[i] = byID[id]
	}
	return order, nil
}

func (s *session) edge(out engine.Output) (edge, error) {
	n, err := s.graph.node(out.Op)
	if err != nil {
		return edge{}, err
	}
	if out.Index < 0 || out.Index >= n.NumOutputs() {
		return edge{}, status.Errorf(codes.OutOfRange, "node '%s' (type: '%s', num of outputs: %d) does not have output %d", n.name, n.opType, n.NumOutputs(), out.Index)
	}
	return edge{node: n, index: out.Index}, nil
}

func (s *session) ListDevices() ([]engine.Device, error) {
	if s.deleted {
		return nil, status.Errorf(codes.FailedPrecondition, "Session has been deleted.")
	}
	return []engine.Device{{Name: cpuDeviceName, Type: "CPU", MemoryLimitBytes: cpuDeviceMemoryLimit}}, nil
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

func (s *session) Delete() error {
	s.closed = true
	s.deleted = true
	return nil
}
