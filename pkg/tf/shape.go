package tf

import (
	"fmt"
	"strings"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// Shape is the shape of a graph edge. Unlike a Tensor's shape it may be
// partially known: the rank may be unknown, and so may any dimension,
// which is then -1.
type Shape struct {
	dims  []int64
	known bool
}

// ScalarShape returns the shape of a scalar.
func ScalarShape() Shape {
	return Shape{dims: []int64{}, known: true}
}

// MakeShape returns a shape with the given dimensions; use -1 for a
// dimension of unknown size.
func MakeShape(dims ...int64) Shape {
	if dims == nil {
		dims = []int64{}
	}
	return Shape{dims: dims, known: true}
}

// UnknownShape returns a shape of unknown rank.
func UnknownShape() Shape {
	return Shape{}
}

// NumDimensions returns the rank, or -1 if it is unknown.
func (s Shape) NumDimensions() int {
	if !s.known {
		return -1
	}
	return len(s.dims)
}

// Size returns the size of dimension dim, or -1 if unknown.
func (s Shape) Size(dim int) int64 {
	if !s.known || dim < 0 || dim >= len(s.dims) {
		return -1
	}
	return s.dims[dim]
}

func (s Shape) IsFullySpecified() bool {
	if !s.known {
		return false
	}
	for _, d := range s.dims {
		if d < 0 {
			return false
		}
	}
	return true
}

// ToSlice returns the dimensions. It fails if the rank is unknown.
func (s Shape) ToSlice() ([]int64, error) {
	if !s.known {
		return nil, fmt.Errorf("%w: cannot convert a shape of unknown rank to a slice", ErrShapeMismatch)
	}
	return append([]int64{}, s.dims...), nil
}

// NumElements returns the number of elements of a fully specified shape,
// or -1, also when the count does not fit in an int64.
func (s Shape) NumElements() int64 {
	if !s.IsFullySpecified() {
		return -1
	}
	n, err := engine.NumElements(s.dims)
	if err != nil {
		return -1
	}
	return n
}

func (s Shape) String() string {
	if !s.known {
		return "?"
	}
	parts := make([]string, len(s.dims))
	for i, d := range s.dims {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprint(d)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// numElements is for shapes of existing tensors, already checked by the
// engine that allocated them.
func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
