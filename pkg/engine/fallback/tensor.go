package fallback

import (
	"unsafe"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type tensor struct {
	dtype      engine.DataType
	dimensions []int64
	data       []byte
}

var _ engine.Tensor = (*tensor)(nil)

// maxTensorBytes caps single allocations of this engine. Larger tensors
// fail with ResourceExhausted rather than exhausting the process.
const maxTensorBytes int64 = 1 << 32

func newTensor(dt engine.DataType, dims []int64, byteSize int) (*tensor, error) {
	if !dt.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "invalid data type %d", int32(dt))
	}
	count, err := engine.NumElements(dims)
	if err != nil {
		return nil, err
	}
	if byteSize < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "negative byte size %d", byteSize)
	}
	if size := dt.Size(); size != 0 {
		want, err := engine.ByteSize(dt, dims)
		if err != nil {
			return nil, err
		}
		if want != byteSize {
			return nil, status.Errorf(codes.InvalidArgument, "tensor of type %v and shape %v needs %d bytes, got %d", dt, dims, want, byteSize)
		}
	} else if dt == engine.String && count > int64(byteSize/8) {
		return nil, status.Errorf(codes.InvalidArgument, "string tensor of shape %v needs an offset table of %d entries, got %d bytes", dims, count, byteSize)
	}
	if int64(byteSize) > maxTensorBytes {
		return nil, status.Errorf(codes.ResourceExhausted, "tensor of type %v and shape %v needs %d bytes, more than the %d this engine allocates", dt, dims, byteSize, maxTensorBytes)
	}
	return &tensor{
		dtype:      dt,
		dimensions: append([]int64(nil), dims...),
		data:       alignedBytes(byteSize),
	}, nil
}

// alignedBytes allocates a zeroed buffer aligned for the widest element type.
func alignedBytes(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// numElements is only used on dimensions already checked by newTensor.
func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func (t *tensor) DataType() engine.DataType { return t.dtype }
func (t *tensor) NumDims() int              { return len(t.dimensions) }
func (t *tensor) Dim(i int) int64           { return t.dimensions[i] }
func (t *tensor) ByteSize() int             { return len(t.data) }
func (t *tensor) Data() []byte              { return t.data }

func (t *tensor) Delete() {
	t.data = nil
}

func (t *tensor) numElements() int64 {
	return numElements(t.dimensions)
}

func (t *tensor) clone() *tensor {
	out := &tensor{
		dtype:      t.dtype,
		dimensions: append([]int64(nil), t.dimensions...),
		data:       alignedBytes(len(t.data)),
	}
	copy(out.data, t.data)
	return out
}

// asTensor accepts only handles allocated by this engine.
func asTensor(t engine.Tensor) (*tensor, error) {
	ft, ok := t.(*tensor)
	if !ok || ft == nil {
		return nil, status.Errorf(codes.InvalidArgument, "tensor %T was not allocated by the fallback engine", t)
	}
	if ft.data == nil {
		return nil, status.Errorf(codes.FailedPrecondition, "tensor has been deleted")
	}
	return ft, nil
}
