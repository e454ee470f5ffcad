package tf

// Scope adds operations to a graph and remembers the first error, so a
// sequence of builder calls needs a single check at the end.
type Scope struct {
	graph *Graph
	err   error
}

func NewScope(g *Graph) *Scope {
	return &Scope{graph: g}
}

func (s *Scope) Graph() *Graph {
	return s.graph
}

// Err returns the first error hit by any builder call.
func (s *Scope) Err() error {
	return s.err
}

// Op adds an operation. After an error it does nothing and returns nil.
func (s *Scope) Op(opType string, name string, inputs []OpInput, attrs map[string]any) *Operation {
	if s.err != nil {
		return nil
	}
	op, err := s.graph.AddOperation(OpSpec{
		Type:  opType,
		Name:  name,
		Input: inputs,
		Attrs: attrs,
	})
	if err != nil {
		s.err = err
		return nil
	}
	return op
}

func (s *Scope) output(op *Operation) Output {
	if op == nil {
		return Output{}
	}
	return op.Output(0)
}

// Const adds a Const operation holding value.
func (s *Scope) Const(value any, opts ...TensorOption) Output {
	if s.err != nil {
		return Output{}
	}
	t, err := NewTensor(value, append([]TensorOption{WithEngine(s.graph.engine)}, opts...)...)
	if err != nil {
		s.err = err
		return Output{}
	}
	defer t.Close()
	return s.output(s.Op("Const", "", nil, map[string]any{
		"dtype": t.DataType(),
		"value": t,
	}))
}

// Placeholder adds a Placeholder named name, to be fed at run time.
func (s *Scope) Placeholder(name string, dt DataType) Output {
	return s.output(s.Op("Placeholder", name, nil, map[string]any{"dtype": dt}))
}

// Add adds an element-wise x + y.
func (s *Scope) Add(x, y Output) Output {
	return s.output(s.Op("Add", "", []OpInput{x, y}, nil))
}
