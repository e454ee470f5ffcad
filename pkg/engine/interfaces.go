package engine

// Engine is a native graph-execution engine, reached only through opaque
// handles. Every primitive that can fail returns an error built with
// google.golang.org/grpc/status, so the engine's status code and message
// survive as a single value.
type Engine interface {
	Version() string

	// AllocateTensor allocates an uninitialized tensor of byteSize bytes.
	// The caller owns the returned handle and must Delete it exactly once.
	AllocateTensor(dt DataType, dims []int64, byteSize int) (Tensor, error)

	// StringEncodedSize returns the number of bytes needed to encode a
	// string of n bytes into a STRING tensor's data region.
	StringEncodedSize(n int) int
	// StringEncode writes the length-prefixed form of src to dst and
	// returns the number of bytes written.
	StringEncode(src string, dst []byte) (int, error)
	// StringDecode decodes the string starting at src[0] and returns it
	// together with the number of bytes it occupied.
	StringDecode(src []byte) (string, int, error)

	NewGraph() Graph

	NewSession(g Graph, opts SessionOptions) (Session, error)
	// LoadSessionFromSavedModel populates g from the model persisted in
	// exportDir and returns a session bound to it.
	LoadSessionFromSavedModel(opts SessionOptions, exportDir string, tags []string, g Graph) (Session, error)
}

type Tensor interface {
	DataType() DataType
	NumDims() int
	Dim(i int) int64
	ByteSize() int
	// Data returns the tensor's buffer. The slice aliases native memory and
	// must not be used after Delete.
	Data() []byte
	Delete()
}

type Graph interface {
	// OperationByName returns nil if there is no such operation.
	OperationByName(name string) Operation
	// NextOperation returns the operation at *pos and advances it, or nil
	// once every operation has been visited.
	NextOperation(pos *int) Operation

	NewOperation(opType string, name string) OperationDescription

	// TensorShape returns the statically known shape of out. known is false
	// when the rank is unknown; individual dimensions may be -1.
	TensorShape(out Output) (dims []int64, known bool, err error)

	ToGraphDef() ([]byte, error)
	// ImportGraphDef merges a serialized graph. It either imports every
	// node or none of them.
	ImportGraphDef(def []byte, prefix string) error

	Delete()
}

// OperationDescription is an operation under construction. Finish is the
// only way to turn it into an Operation, and validates it as one unit.
type OperationDescription interface {
	AddInput(in Output)
	AddInputList(ins []Output)
	AddControlInput(op Operation)
	SetDevice(device string)

	SetAttrString(name string, value string)
	SetAttrStringList(name string, values []string)
	SetAttrInt(name string, value int64)
	SetAttrIntList(name string, values []int64)
	SetAttrFloat(name string, value float32)
	SetAttrFloatList(name string, values []float32)
	SetAttrBool(name string, value bool)
	SetAttrBoolList(name string, values []bool)
	SetAttrType(name string, value DataType)
	SetAttrTypeList(name string, values []DataType)
	// SetAttrShape sets a shape attribute; numDims -1 means unknown rank.
	SetAttrShape(name string, dims []int64, numDims int)
	SetAttrShapeList(name string, dims [][]int64, numDims []int)
	SetAttrTensor(name string, value Tensor) error
	SetAttrTensorList(name string, values []Tensor) error
	SetAttrFuncName(name string, value string)
	SetAttrFuncNameList(name string, values []string) error

	Finish() (Operation, error)
}

// Operation is a finished node. Handles are comparable: two handles to the
// same node are equal.
type Operation interface {
	Name() string
	OpType() string
	Device() string

	NumInputs() int
	NumOutputs() int
	InputType(index int) DataType
	OutputType(index int) DataType
	// InputSource returns the output feeding input index.
	InputSource(index int) Output
	OutputNumConsumers(index int) int
	OutputConsumers(index int) []Input

	ControlInputs() []Operation
	ControlOutputs() []Operation

	InputListLength(argName string) (int, error)
	OutputListLength(argName string) (int, error)
}

// Output identifies an edge produced by an operation.
type Output struct {
	Op    Operation
	Index int
}

// Input identifies an input slot of an operation.
type Input struct {
	Op    Operation
	Index int
}

type SessionOptions struct {
	// Target is the execution engine to connect to; empty means in-process.
	Target string
	// Config is a serialized ConfigProto.
	Config []byte
}

type Session interface {
	// Run executes the subgraph needed to compute fetches and run targets,
	// with feeds overriding the values of the given edges. The returned
	// tensors are owned by the caller.
	Run(feeds []Output, feedValues []Tensor, fetches []Output, targets []Operation) ([]Tensor, error)
	ListDevices() ([]Device, error)
	Close() error
	Delete() error
}

type Device struct {
	Name             string
	Type             string
	MemoryLimitBytes int64
}
