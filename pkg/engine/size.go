package engine

import (
	"math"
	"slices"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxByteSize bounds the buffer of a single tensor. It is the largest
// allocation the Go runtime accepts on 64-bit platforms, or MaxInt.
const MaxByteSize = min(1<<48, math.MaxInt)

// NumElements returns the number of elements of a tensor with dimensions
// dims. It fails with InvalidArgument for a negative dimension or a count
// that does not fit in an int64.
func NumElements(dims []int64) (int64, error) {
	for _, d := range dims {
		if d < 0 {
			return 0, status.Errorf(codes.InvalidArgument, "negative dimension %d in shape %v", d, dims)
		}
	}
	if slices.Contains(dims, 0) {
		return 0, nil
	}
	n := int64(1)
	for _, d := range dims {
		if n > math.MaxInt64/d {
			return 0, status.Errorf(codes.InvalidArgument, "shape %v has too many elements", dims)
		}
		n *= d
	}
	return n, nil
}

// BufferSize returns count*width, failing with InvalidArgument if it is
// above MaxByteSize.
func BufferSize(count int64, width int) (int, error) {
	if count < 0 || width < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "negative buffer size %d*%d", count, width)
	}
	if width != 0 && count > MaxByteSize/int64(width) {
		return 0, status.Errorf(codes.InvalidArgument, "%d elements of %d bytes exceed the %d byte tensor limit", count, width, int64(MaxByteSize))
	}
	return int(count) * width, nil
}

// ByteSize returns the buffer size of a tensor of the fixed-width type dt.
func ByteSize(dt DataType, dims []int64) (int, error) {
	if dt.Size() == 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%v has no fixed element size", dt)
	}
	n, err := NumElements(dims)
	if err != nil {
		return 0, err
	}
	size, err := BufferSize(n, dt.Size())
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "tensor of type %v and shape %v: %v", dt, dims, status.Convert(err).Message())
	}
	return size, nil
}
