package engine

import (
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestByteSize(t *testing.T) {
	grid := []struct {
		dt   DataType
		dims []int64
		want int
		code codes.Code
	}{
		{dt: Float, dims: nil, want: 4},
		{dt: Double, dims: []int64{2, 3}, want: 48},
		{dt: Int8, dims: []int64{1 << 62, 0}, want: 0},
		{dt: Float, dims: []int64{-1}, code: codes.InvalidArgument},
		{dt: Float, dims: []int64{1 << 62}, code: codes.InvalidArgument},
		{dt: Uint8, dims: []int64{1 << 32, 1 << 32}, code: codes.InvalidArgument},
		{dt: Double, dims: []int64{1 << 46}, code: codes.InvalidArgument},
		{dt: String, dims: []int64{1}, code: codes.InvalidArgument},
	}
	for _, g := range grid {
		got, err := ByteSize(g.dt, g.dims)
		if status.Code(err) != g.code {
			t.Errorf("ByteSize(%v, %v) error = %v, expected code %v", g.dt, g.dims, err, g.code)
			continue
		}
		if err == nil && got != g.want {
			t.Errorf("ByteSize(%v, %v) = %d, expected %d", g.dt, g.dims, got, g.want)
		}
	}
}

func TestNumElementsOverflow(t *testing.T) {
	if _, err := NumElements([]int64{1 << 31, 1 << 31, 1 << 31}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for an overflowing shape, got %v", err)
	}
	n, err := NumElements([]int64{1 << 20, 1 << 20})
	if err != nil || n != 1<<40 {
		t.Errorf("NumElements = %d, %v; expected %d", n, err, int64(1<<40))
	}
}
