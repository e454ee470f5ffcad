package tf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"

	"k8s.io/examples/AI/tfgraph/pkg/engine/fallback"
)

func TestTensorRoundTrip(t *testing.T) {
	grid := []struct {
		value any
		dtype DataType
		shape []int64
		want  any
	}{
		{value: int8(-5), dtype: Int8, shape: []int64{}},
		{value: []int16{-1, 2}, dtype: Int16, shape: []int64{2}},
		{value: []int32{1, 2, 3}, dtype: Int32, shape: []int64{3}},
		{value: [][]int64{{1, 2, 3}, {4, 5, 6}}, dtype: Int64, shape: []int64{2, 3}},
		{value: []uint8{0, 255}, dtype: Uint8, shape: []int64{2}},
		{value: []uint16{1, 65535}, dtype: Uint16, shape: []int64{2}},
		{value: []uint32{7}, dtype: Uint32, shape: []int64{1}},
		{value: uint64(1 << 63), dtype: Uint64, shape: []int64{}},
		{value: float32(1.5), dtype: Float, shape: []int64{}},
		{value: [][][]float64{{{1}, {2}}, {{3}, {4}}}, dtype: Double, shape: []int64{2, 2, 1}},
		{value: []bool{true, false, true}, dtype: Bool, shape: []int64{3}},
		{value: [][]string{{"a", ""}, {"hello", "c3"}}, dtype: String, shape: []int64{2, 2}},
		{value: "scalar", dtype: String, shape: []int64{}},

		// int is 64-bit on every platform.
		{value: []int{1, 2}, dtype: Int64, shape: []int64{2}, want: []int64{1, 2}},
		{value: uint(3), dtype: Uint64, shape: []int64{}, want: uint64(3)},
		// Arrays decode as slices.
		{value: [3]float32{1, 2, 3}, dtype: Float, shape: []int64{3}, want: []float32{1, 2, 3}},
		{value: []float32{}, dtype: Float, shape: []int64{0}},
		{value: [][]int32{}, dtype: Int32, shape: []int64{0, 0}},
	}

	for _, g := range grid {
		tensor, err := NewTensor(g.value)
		if err != nil {
			t.Errorf("NewTensor(%#v): %v", g.value, err)
			continue
		}
		if tensor.DataType() != g.dtype {
			t.Errorf("NewTensor(%#v) has type %v, want %v", g.value, tensor.DataType(), g.dtype)
		}
		if diff := cmp.Diff(g.shape, tensor.Shape()); diff != "" {
			t.Errorf("NewTensor(%#v) shape (-want +got):\n%s", g.value, diff)
		}

		got, err := tensor.Value()
		if err != nil {
			t.Errorf("Value() of %#v: %v", g.value, err)
			continue
		}
		want := g.want
		if want == nil {
			want = g.value
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Value() of %#v (-want +got):\n%s", g.value, diff)
		}
		tensor.Close()
	}
}

func TestNewTensorRejects(t *testing.T) {
	grid := []struct {
		name  string
		value any
		opts  []TensorOption
		want  error
	}{
		{name: "ragged", value: [][]int32{{1, 2}, {3}}, want: ErrShapeMismatch},
		{name: "mixed kinds", value: []any{int32(1), int64(2)}, want: ErrTypeMismatch},
		{name: "nil", value: nil, want: ErrTypeMismatch},
		{name: "struct", value: struct{}{}, want: ErrTypeMismatch},
		{name: "shape too short", value: []float32{1, 2, 3}, opts: []TensorOption{WithShape(2)}, want: ErrShapeMismatch},
		{name: "string as float", value: []string{"x"}, opts: []TensorOption{WithDataType(Float)}, want: ErrTypeMismatch},
		{name: "no value encoding", value: []float32{1}, opts: []TensorOption{WithDataType(Complex64)}, want: ErrNotImplemented},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			_, err := NewTensor(g.value, g.opts...)
			if !errors.Is(err, g.want) {
				t.Fatalf("NewTensor(%#v) = %v, want %v", g.value, err, g.want)
			}
			if Code(err) != Code(g.want) {
				t.Errorf("Code() = %v, want %v", Code(err), Code(g.want))
			}
		})
	}
}

func TestTensorRejectsOversizedShapes(t *testing.T) {
	grid := []struct {
		name  string
		alloc func() (*Tensor, error)
		code  codes.Code
	}{
		{
			name:  "wrapping byte size",
			alloc: func() (*Tensor, error) { return AllocateTensor(Float, []int64{1 << 62}) },
			code:  codes.InvalidArgument,
		},
		{
			name:  "wrapping element count",
			alloc: func() (*Tensor, error) { return AllocateTensor(Uint8, []int64{1 << 32, 1 << 32}) },
			code:  codes.InvalidArgument,
		},
		{
			name:  "string offset table",
			alloc: func() (*Tensor, error) { return AllocateTensor(String, []int64{1 << 62}) },
			code:  codes.InvalidArgument,
		},
		{
			name:  "explicit shape",
			alloc: func() (*Tensor, error) { return NewTensor([]float32{1}, WithShape(1<<62)) },
			code:  codes.InvalidArgument,
		},
		{
			name: "read",
			alloc: func() (*Tensor, error) {
				return ReadTensor(Double, []int64{1 << 61, 4}, bytes.NewReader(nil))
			},
			code: codes.InvalidArgument,
		},
		{
			name: "beyond engine limit",
			alloc: func() (*Tensor, error) {
				return AllocateTensor(Float, []int64{1 << 40}, WithEngine(fallback.New()))
			},
			code: codes.ResourceExhausted,
		},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			tensor, err := g.alloc()
			if err == nil {
				tensor.Close()
				t.Fatalf("allocation succeeded with %v bytes", tensor.ByteSize())
			}
			if Code(err) != g.code {
				t.Errorf("Code() = %v, want %v (%v)", Code(err), g.code, err)
			}
		})
	}
}

func TestNewTensorRejectsOutOfRangeConversions(t *testing.T) {
	grid := []struct {
		value any
		dtype DataType
	}{
		{value: []int{300, -1}, dtype: Int8},
		{value: []int{-1}, dtype: Uint8},
		{value: []int64{1 << 40}, dtype: Int32},
		{value: []uint64{1 << 63}, dtype: Int64},
		{value: []float64{1e20}, dtype: Int64},
		{value: []float64{-0.5, -1}, dtype: Uint16},
	}
	for _, g := range grid {
		if _, err := NewTensor(g.value, WithDataType(g.dtype)); !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("NewTensor(%v) as %v = %v, want %v", g.value, g.dtype, err, ErrTypeMismatch)
		}
	}

	tensor, err := NewTensor([]any{97, 98.9, uint(127), -128}, WithDataType(Int8))
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	defer tensor.Close()
	got, err := tensor.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if diff := cmp.Diff([]int8{97, 98, 127, -128}, got); diff != "" {
		t.Errorf("Value() (-want +got):\n%s", diff)
	}
}

func TestNewTensorConvertsToExplicitType(t *testing.T) {
	tensor, err := NewTensor([]int{1, 2, 3}, WithDataType(Float))
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	defer tensor.Close()

	got, err := tensor.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3}, got); diff != "" {
		t.Errorf("Value() (-want +got):\n%s", diff)
	}
}

func TestInferShape(t *testing.T) {
	grid := []struct {
		value any
		want  []int64
	}{
		{value: [][]int{{1, 2, 3}, {4, 5, 6}}, want: []int64{2, 3}},
		{value: 42, want: []int64{}},
		{value: []any{[]int32{1}, []int32{2}}, want: []int64{2, 1}},
		{value: [][][]bool{}, want: []int64{0, 0, 0}},
	}
	for _, g := range grid {
		got, err := InferShape(g.value)
		if err != nil {
			t.Errorf("InferShape(%#v): %v", g.value, err)
			continue
		}
		if diff := cmp.Diff(g.want, got); diff != "" {
			t.Errorf("InferShape(%#v) (-want +got):\n%s", g.value, diff)
		}
	}
}

func TestStringTensorLayout(t *testing.T) {
	values := []string{"a", "b", "c3"}
	tensor, err := NewTensor(values)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	defer tensor.Close()

	want := 8 * len(values)
	for _, s := range values {
		want += DefaultEngine().StringEncodedSize(len(s))
	}
	if got := tensor.ByteSize(); got != want {
		t.Errorf("ByteSize() = %d, want %d", got, want)
	}

	if _, err := tensor.Bytes(); !errors.Is(err, ErrUnserializable) {
		t.Errorf("Bytes() on a string tensor = %v, want %v", err, ErrUnserializable)
	}
}

func TestTensorBytes(t *testing.T) {
	tensor, err := NewTensor([]int32{1, 2})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	b, err := tensor.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if len(b) != 8 {
		t.Errorf("Bytes() has %d bytes, want 8", len(b))
	}

	if err := tensor.SetBytes(make([]byte, 7)); !errors.Is(err, ErrByteSizeMismatch) {
		t.Errorf("SetBytes(7 bytes) = %v, want %v", err, ErrByteSizeMismatch)
	}
	if err := tensor.SetBytes(make([]byte, 8)); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	got, err := tensor.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if diff := cmp.Diff([]int32{0, 0}, got); diff != "" {
		t.Errorf("Value() after SetBytes (-want +got):\n%s", diff)
	}

	if err := tensor.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tensor.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := tensor.Bytes(); !errors.Is(err, ErrReleased) {
		t.Errorf("Bytes() after Close = %v, want %v", err, ErrReleased)
	}
	if _, err := tensor.Value(); Code(err) != codes.FailedPrecondition {
		t.Errorf("Value() after Close has code %v, want %v", Code(err), codes.FailedPrecondition)
	}
	if tensor.ByteSize() != 0 {
		t.Errorf("ByteSize() after Close = %d, want 0", tensor.ByteSize())
	}
}

func TestReadTensor(t *testing.T) {
	src, err := NewTensor([][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	if _, err := src.WriteContentsTo(&buf); err != nil {
		t.Fatalf("WriteContentsTo: %v", err)
	}

	dst, err := ReadTensor(Double, []int64{2, 2}, &buf)
	if err != nil {
		t.Fatalf("ReadTensor: %v", err)
	}
	defer dst.Close()
	got, err := dst.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if diff := cmp.Diff([][]float64{{1, 2}, {3, 4}}, got); diff != "" {
		t.Errorf("Value() (-want +got):\n%s", diff)
	}

	if _, err := ReadTensor(Double, []int64{3}, bytes.NewReader(make([]byte, 4))); err == nil {
		t.Errorf("ReadTensor of a short reader succeeded")
	}
}

func TestAllocateTensor(t *testing.T) {
	tensor, err := AllocateTensor(Complex64, []int64{2, 3})
	if err != nil {
		t.Fatalf("AllocateTensor: %v", err)
	}
	defer tensor.Close()
	if tensor.ByteSize() != 48 {
		t.Errorf("ByteSize() = %d, want 48", tensor.ByteSize())
	}
	if _, err := tensor.Value(); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Value() of complex64 = %v, want %v", err, ErrNotImplemented)
	}

	if _, err := AllocateTensor(Resource, []int64{1}); !errors.Is(err, ErrUnserializable) {
		t.Errorf("AllocateTensor(resource) = %v, want %v", err, ErrUnserializable)
	}

	strs, err := AllocateTensor(String, []int64{2})
	if err != nil {
		t.Fatalf("AllocateTensor(string): %v", err)
	}
	defer strs.Close()
	got, err := strs.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if diff := cmp.Diff([]string{"", ""}, got); diff != "" {
		t.Errorf("Value() (-want +got):\n%s", diff)
	}
}

func TestShapeString(t *testing.T) {
	grid := []struct {
		shape Shape
		want  string
		rank  int
	}{
		{shape: UnknownShape(), want: "?", rank: -1},
		{shape: ScalarShape(), want: "[]", rank: 0},
		{shape: MakeShape(2, -1), want: "[2,?]", rank: 2},
		{shape: MakeShape(3, 4), want: "[3,4]", rank: 2},
	}
	for _, g := range grid {
		if got := g.shape.String(); got != g.want {
			t.Errorf("String() = %q, want %q", got, g.want)
		}
		if got := g.shape.NumDimensions(); got != g.rank {
			t.Errorf("NumDimensions() of %v = %d, want %d", g.shape, got, g.rank)
		}
	}
	if _, err := UnknownShape().ToSlice(); err == nil {
		t.Errorf("ToSlice() of an unknown shape succeeded")
	}
	if n := MakeShape(3, 4).NumElements(); n != 12 {
		t.Errorf("NumElements() = %d, want 12", n)
	}
}
