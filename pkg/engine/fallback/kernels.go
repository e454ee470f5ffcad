package fallback

import (
	"fmt"
	"slices"
	"strings"
	"unsafe"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type arithmetic int

const (
	opAdd arithmetic = iota
	opSub
	opMul
)

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// view reinterprets an aligned buffer as a slice of T.
func view[T number](data []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(data) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), len(data)/size)
}

func apply[T number](op arithmetic, a, b T) T {
	switch op {
	case opSub:
		return a - b
	case opMul:
		return a * b
	default:
		return a + b
	}
}

func binaryKernel[T number](op arithmetic, out, x, y []byte, xi, yi []int) {
	o, a, b := view[T](out), view[T](x), view[T](y)
	for i := range o {
		o[i] = apply(op, a[xi[i]], b[yi[i]])
	}
}

func negateKernel[T number](out, x []byte) {
	o, a := view[T](out), view[T](x)
	for i := range o {
		o[i] = -a[i]
	}
}

// elementwise applies op with numpy-style broadcasting.
func elementwise(op arithmetic, x, y *tensor) (*tensor, error) {
	if x.dtype != y.dtype {
		return nil, status.Errorf(codes.InvalidArgument, "cannot compute %v with %v", x.dtype, y.dtype)
	}
	dims, err := broadcastDims(x.dimensions, y.dimensions)
	if err != nil {
		return nil, err
	}
	count, err := engine.NumElements(dims)
	if err != nil {
		return nil, err
	}
	if count > maxTensorBytes/8 {
		return nil, status.Errorf(codes.ResourceExhausted, "broadcast shape %s has too many elements", formatDims(dims))
	}
	xi := broadcastIndex(dims, x.dimensions)
	yi := broadcastIndex(dims, y.dimensions)

	if x.dtype == engine.String {
		if op != opAdd {
			return nil, status.Errorf(codes.Unimplemented, "string tensors only support Add")
		}
		xs, err := decodeStrings(x)
		if err != nil {
			return nil, err
		}
		ys, err := decodeStrings(y)
		if err != nil {
			return nil, err
		}
		values := make([]string, len(xi))
		for i := range values {
			values[i] = xs[xi[i]] + ys[yi[i]]
		}
		return encodeStrings(dims, values)
	}

	size, err := engine.ByteSize(x.dtype, dims)
	if err != nil {
		return nil, err
	}
	out, err := newTensor(x.dtype, dims, size)
	if err != nil {
		return nil, err
	}
	switch x.dtype {
	case engine.Float:
		binaryKernel[float32](op, out.data, x.data, y.data, xi, yi)
	case engine.Double:
		binaryKernel[float64](op, out.data, x.data, y.data, xi, yi)
	case engine.Int8:
		binaryKernel[int8](op, out.data, x.data, y.data, xi, yi)
	case engine.Int16:
		binaryKernel[int16](op, out.data, x.data, y.data, xi, yi)
	case engine.Int32:
		binaryKernel[int32](op, out.data, x.data, y.data, xi, yi)
	case engine.Int64:
		binaryKernel[int64](op, out.data, x.data, y.data, xi, yi)
	case engine.Uint8:
		binaryKernel[uint8](op, out.data, x.data, y.data, xi, yi)
	case engine.Uint16:
		binaryKernel[uint16](op, out.data, x.data, y.data, xi, yi)
	case engine.Uint32:
		binaryKernel[uint32](op, out.data, x.data, y.data, xi, yi)
	case engine.Uint64:
		binaryKernel[uint64](op, out.data, x.data, y.data, xi, yi)
	default:
		return nil, status.Errorf(codes.Unimplemented, "no arithmetic kernel for %v", x.dtype)
	}
	return out, nil
}

func negate(x *tensor) ([]*tensor, error) {
	out, err := newTensor(x.dtype, x.dimensions, len(x.data))
	if err != nil {
		return nil, err
	}
	switch x.dtype {
	case engine.Float:
		negateKernel[float32](out.data, x.data)
	case engine.Double:
		negateKernel[float64](out.data, x.data)
	case engine.Int8:
		negateKernel[int8](out.data, x.data)
	case engine.Int16:
		negateKernel[int16](out.data, x.data)
	case engine.Int32:
		negateKernel[int32](out.data, x.data)
	case engine.Int64:
		negateKernel[int64](out.data, x.data)
	default:
		return nil, status.Errorf(codes.Unimplemented, "no Neg kernel for %v", x.dtype)
	}
	return []*tensor{out}, nil
}

func stringJoin(n *node, in []*tensor) ([]*tensor, error) {
	var dims []int64
	for _, t := range in {
		if len(t.dimensions) == 0 {
			continue
		}
		if dims == nil {
			dims = t.dimensions
		} else if !slices.Equal(dims, t.dimensions) {
			return nil, status.Errorf(codes.InvalidArgument, "Inconsistent shapes %s vs. %s", formatDims(dims), formatDims(t.dimensions))
		}
	}
	count := int(numElements(dims))
	parts := make([][]string, len(in))
	for i, t := range in {
		values, err := decodeStrings(t)
		if err != nil {
			return nil, err
		}
		parts[i] = values
	}

	separator := n.attrs["separator"].s[0]
	values := make([]string, count)
	joined := make([]string, len(in))
	for i := range values {
		for j, p := range parts {
			if len(p) == 1 {
				joined[j] = p[0]
			} else {
				joined[j] = p[i]
			}
		}
		values[i] = strings.Join(joined, separator)
	}
	out, err := encodeStrings(dims, values)
	if err != nil {
		return nil, err
	}
	return []*tensor{out}, nil
}

func broadcastDims(a, b []int64) ([]int64, error) {
	rank := max(len(a), len(b))
	out := make([]int64, rank)
	for i := range rank {
		da, db := dimFromRight(a, rank-1-i), dimFromRight(b, rank-1-i)
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			return nil, status.Errorf(codes.InvalidArgument, "Incompatible shapes: %s vs. %s", formatDims(a), formatDims(b))
		}
	}
	return out, nil
}

// dimFromRight returns the dimension i places from the end, or 1 past the
// front.
func dimFromRight(dims []int64, i int) int64 {
	if i >= len(dims) {
		return 1
	}
	return dims[len(dims)-1-i]
}

// broadcastIndex maps each flat index of out to the flat index of in.
func broadcastIndex(out, in []int64) []int {
	count := int(numElements(out))
	offset := len(out) - len(in)
	strides := make([]int, len(out))
	stride := 1
	for i := len(in) - 1; i >= 0; i-- {
		if in[i] != 1 {
			strides[offset+i] = stride
		}
		stride *= int(in[i])
	}

	index := make([]int, count)
	coords := make([]int64, len(out))
	for flat := range count {
		pos := 0
		for d := range coords {
			pos += int(coords[d]) * strides[d]
		}
		index[flat] = pos
		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < out[d] {
				break
			}
			coords[d] = 0
		}
	}
	return index
}

// broadcastShapeValues is the static counterpart of broadcastDims; an
// unknown or incompatible input yields an unknown shape.
func broadcastShapeValues(a, b shapeValue) shapeValue {
	if !a.known || !b.known {
		return shapeValue{}
	}
	rank := max(len(a.dims), len(b.dims))
	out := make([]int64, rank)
	for i := range rank {
		da, db := dimFromRight(a.dims, rank-1-i), dimFromRight(b.dims, rank-1-i)
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		case da == -1:
			out[i] = db
		case db == -1:
			out[i] = da
		default:
			return shapeValue{}
		}
	}
	return shapeValue{dims: out, known: true}
}

func formatDims(dims []int64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, d := range dims {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", d)
	}
	b.WriteByte(']')
	return b.String()
}
