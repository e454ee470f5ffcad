package tf

import (
	"fmt"
	"io"
	"reflect"

	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// Tensor is a typed multi-dimensional array held in engine memory. A Tensor
// owns its buffer and must be released with Close.
type Tensor struct {
	engine engine.Engine
	c      engine.Tensor

	dtype DataType
	shape []int64
}

type tensorOptions struct {
	engine   engine.Engine
	dtype    DataType
	hasDtype bool
	shape    []int64
	hasShape bool
}

// TensorOption customizes tensor construction.
type TensorOption func(*tensorOptions)

// WithDataType sets the element type instead of inferring it from the value.
// Numeric values are converted to it.
func WithDataType(dt DataType) TensorOption {
	return func(o *tensorOptions) {
		o.dtype = dt
		o.hasDtype = true
	}
}

// WithShape sets the shape instead of inferring it from the value. The value
// must still match it exactly.
func WithShape(dims ...int64) TensorOption {
	return func(o *tensorOptions) {
		o.shape = append([]int64{}, dims...)
		o.hasShape = true
	}
}

// WithEngine allocates the tensor on e rather than DefaultEngine.
func WithEngine(e engine.Engine) TensorOption {
	return func(o *tensorOptions) {
		o.engine = e
	}
}

func buildTensorOptions(opts []TensorOption) *tensorOptions {
	o := &tensorOptions{engine: defaultEngine}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewTensor encodes value, a scalar or an arbitrarily nested slice or array
// of scalars, into a new tensor.
//
// Without WithDataType the type is that of the first scalar found, with int
// and uint treated as 64-bit on every platform, and every other scalar must
// be of the same Go kind. Without WithShape the shape is the length of each
// nesting level, following the first element.
func NewTensor(value any, opts ...TensorOption) (*Tensor, error) {
	o := buildTensorOptions(opts)

	strict := !o.hasDtype
	if !o.hasDtype {
		dt, err := InferDataType(value)
		if err != nil {
			return nil, err
		}
		o.dtype = dt
	}
	if !o.hasShape {
		shape, err := InferShape(value)
		if err != nil {
			return nil, err
		}
		o.shape = shape
	}
	if !isCodecType(o.dtype) {
		return nil, fmt.Errorf("%w: no value encoding for %v tensors", ErrNotImplemented, o.dtype)
	}

	enc := &encoder{
		engine: o.engine,
		dtype:  o.dtype,
		shape:  o.shape,
		strict: strict,
	}
	c, err := enc.encode(reflect.ValueOf(value))
	if err != nil {
		return nil, err
	}
	return newTensorFromNative(o.engine, c), nil
}

// AllocateTensor returns a zero-valued tensor of the given type and shape.
// It is the way to build tensors of types without a value encoding, whose
// contents are then set with SetBytes.
func AllocateTensor(dt DataType, shape []int64, opts ...TensorOption) (*Tensor, error) {
	o := buildTensorOptions(opts)
	count, err := engine.NumElements(shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShapeMismatch, status.Convert(err).Message())
	}
	if dt == String {
		enc := &encoder{engine: o.engine, dtype: dt, shape: shape}
		c, err := enc.allocateEmptyStrings(count)
		if err != nil {
			return nil, err
		}
		return newTensorFromNative(o.engine, c), nil
	}
	if dt.Size() == 0 {
		return nil, fmt.Errorf("%w: cannot size a %v tensor", ErrUnserializable, dt)
	}
	size, err := engine.ByteSize(dt, shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShapeMismatch, status.Convert(err).Message())
	}
	c, err := o.engine.AllocateTensor(dt, shape, size)
	if err != nil {
		return nil, err
	}
	clear(c.Data())
	return newTensorFromNative(o.engine, c), nil
}

// ReadTensor reads the raw contents of a tensor of the given type and shape
// from r, in the layout written by WriteContentsTo.
func ReadTensor(dt DataType, shape []int64, r io.Reader, opts ...TensorOption) (*Tensor, error) {
	if !dt.IsSerializable() {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, dt)
	}
	t, err := AllocateTensor(dt, shape, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, t.c.Data()); err != nil {
		t.Close()
		return nil, fmt.Errorf("reading %v tensor contents: %w", dt, err)
	}
	return t, nil
}

// newTensorFromNative takes ownership of c.
func newTensorFromNative(e engine.Engine, c engine.Tensor) *Tensor {
	shape := make([]int64, c.NumDims())
	for i := range shape {
		shape[i] = c.Dim(i)
	}
	return &Tensor{
		engine: e,
		c:      c,
		dtype:  c.DataType(),
		shape:  shape,
	}
}

func (t *Tensor) DataType() DataType {
	return t.dtype
}

// Shape returns the dimensions of the tensor. The result is a copy.
func (t *Tensor) Shape() []int64 {
	return append([]int64{}, t.shape...)
}

func (t *Tensor) NumElements() int64 {
	return numElements(t.shape)
}

// ByteSize returns the size of the underlying buffer, or 0 once released.
func (t *Tensor) ByteSize() int {
	if t.c == nil {
		return 0
	}
	return t.c.ByteSize()
}

// Value decodes the tensor into a Go value: a scalar for rank 0, otherwise
// nested slices, e.g. [][]float32 for a FLOAT matrix.
func (t *Tensor) Value() (any, error) {
	if t.c == nil {
		return nil, ErrReleased
	}
	if !isCodecType(t.dtype) {
		return nil, fmt.Errorf("%w: no value decoding for %v tensors", ErrNotImplemented, t.dtype)
	}
	dec := &decoder{engine: t.engine, dtype: t.dtype, shape: t.shape, buf: t.c.Data()}
	return dec.decode()
}

// Bytes returns a copy of the raw buffer.
func (t *Tensor) Bytes() ([]byte, error) {
	if t.c == nil {
		return nil, ErrReleased
	}
	if !t.dtype.IsSerializable() {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, t.dtype)
	}
	return append([]byte{}, t.c.Data()...), nil
}

// SetBytes overwrites the raw buffer. b must be exactly ByteSize long.
func (t *Tensor) SetBytes(b []byte) error {
	if t.c == nil {
		return ErrReleased
	}
	if !t.dtype.IsSerializable() {
		return fmt.Errorf("%w: %v", ErrUnserializable, t.dtype)
	}
	data := t.c.Data()
	if len(b) != len(data) {
		return fmt.Errorf("%w: got %d bytes for a tensor of %d", ErrByteSizeMismatch, len(b), len(data))
	}
	copy(data, b)
	return nil
}

// View calls fn with the raw buffer. The slice must not be retained or
// modified after fn returns.
func (t *Tensor) View(fn func(data []byte) error) error {
	if t.c == nil {
		return ErrReleased
	}
	return fn(t.c.Data())
}

// WriteContentsTo writes the raw buffer to w.
func (t *Tensor) WriteContentsTo(w io.Writer) (int64, error) {
	if t.c == nil {
		return 0, ErrReleased
	}
	if !t.dtype.IsSerializable() {
		return 0, fmt.Errorf("%w: %v", ErrUnserializable, t.dtype)
	}
	n, err := w.Write(t.c.Data())
	return int64(n), err
}

// Close releases the engine buffer. Further calls are no-ops.
func (t *Tensor) Close() error {
	if t.c == nil {
		return nil
	}
	t.c.Delete()
	t.c = nil
	return nil
}

// native returns the engine handle, failing once the tensor is released.
func (t *Tensor) native() (engine.Tensor, error) {
	if t == nil || t.c == nil {
		return nil, ErrReleased
	}
	return t.c, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%v, %v)", t.dtype, MakeShape(t.shape...))
}
