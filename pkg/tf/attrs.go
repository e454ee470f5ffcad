package tf

import (
	"fmt"
	"math"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// AttrValue is an operation attribute. The set of implementations is
// closed; use ToAttrValue to convert plain Go values.
type AttrValue interface {
	isAttrValue()
}

type (
	AttrString string
	AttrInt    int64
	AttrFloat  float32
	AttrBool   bool
	AttrType   DataType
	AttrShape  Shape
	AttrTensor struct{ Tensor *Tensor }
	// AttrFunc names a function in the graph's library.
	AttrFunc string

	AttrStringList []string
	AttrIntList    []int64
	AttrFloatList  []float32
	AttrBoolList   []bool
	AttrTypeList   []DataType
	AttrShapeList  []Shape
	AttrTensorList []*Tensor
	AttrFuncList   []string
)

func (AttrString) isAttrValue() {}
func (AttrInt) isAttrValue()    {}
func (AttrFloat) isAttrValue()  {}
func (AttrBool) isAttrValue()   {}
func (AttrType) isAttrValue()   {}
func (AttrShape) isAttrValue()  {}
func (AttrTensor) isAttrValue() {}
func (AttrFunc) isAttrValue()   {}

func (AttrStringList) isAttrValue() {}
func (AttrIntList) isAttrValue()    {}
func (AttrFloatList) isAttrValue()  {}
func (AttrBoolList) isAttrValue()   {}
func (AttrTypeList) isAttrValue()   {}
func (AttrShapeList) isAttrValue()  {}
func (AttrTensorList) isAttrValue() {}
func (AttrFuncList) isAttrValue()   {}

// ToAttrValue converts a Go value to an attribute. Strings, integers,
// floats, bools, DataType, Shape and *Tensor map to the scalar kinds, and
// slices of them to the list kinds. A []any takes its kind from its first
// element and every other element must be of the same kind.
func ToAttrValue(v any) (AttrValue, error) {
	switch x := v.(type) {
	case AttrValue:
		return x, nil
	case string:
		return AttrString(x), nil
	case bool:
		return AttrBool(x), nil
	case DataType:
		return AttrType(x), nil
	case Shape:
		return AttrShape(x), nil
	case *Tensor:
		return AttrTensor{Tensor: x}, nil
	case int:
		return AttrInt(x), nil
	case int8:
		return AttrInt(x), nil
	case int16:
		return AttrInt(x), nil
	case int32:
		return AttrInt(x), nil
	case int64:
		return AttrInt(x), nil
	case uint8:
		return AttrInt(x), nil
	case uint16:
		return AttrInt(x), nil
	case uint32:
		return AttrInt(x), nil
	case uint:
		return uintAttr(uint64(x))
	case uint64:
		return uintAttr(x)
	case float32:
		return AttrFloat(x), nil
	case float64:
		return AttrFloat(x), nil

	case []string:
		return AttrStringList(x), nil
	case []bool:
		return AttrBoolList(x), nil
	case []DataType:
		return AttrTypeList(x), nil
	case []Shape:
		return AttrShapeList(x), nil
	case []*Tensor:
		return AttrTensorList(x), nil
	case []int64:
		return AttrIntList(x), nil
	case []int:
		return AttrIntList(convertList[int, int64](x)), nil
	case []int32:
		return AttrIntList(convertList[int32, int64](x)), nil
	case []float32:
		return AttrFloatList(x), nil
	case []float64:
		return AttrFloatList(convertList[float64, float32](x)), nil
	case []any:
		return toAttrList(x)
	}
	return nil, fmt.Errorf("%w: values of type %T", ErrUnknownAttr, v)
}

func uintAttr(x uint64) (AttrValue, error) {
	if x > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows an int attribute", ErrUnknownAttr, x)
	}
	return AttrInt(x), nil
}

func convertList[From, To int | int32 | int64 | float32 | float64](in []From) []To {
	out := make([]To, len(in))
	for i, v := range in {
		out[i] = To(v)
	}
	return out
}

// toAttrList builds a homogeneous list whose kind is that of values[0].
func toAttrList(values []any) (AttrValue, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: cannot tell the kind of an empty []any", ErrUnknownAttr)
	}
	elems := make([]AttrValue, len(values))
	for i, v := range values {
		elem, err := ToAttrValue(v)
		if err != nil {
			return nil, err
		}
		elems[i] = elem
	}
	mixed := func(i int) error {
		return fmt.Errorf("%w: list element %d is %T but element 0 is %T", ErrUnknownAttr, i, elems[i], elems[0])
	}

	switch elems[0].(type) {
	case AttrString:
		return collect(elems, mixed, func(e AttrString) string { return string(e) }, func(l []string) AttrValue { return AttrStringList(l) })
	case AttrInt:
		return collect(elems, mixed, func(e AttrInt) int64 { return int64(e) }, func(l []int64) AttrValue { return AttrIntList(l) })
	case AttrFloat:
		return collect(elems, mixed, func(e AttrFloat) float32 { return float32(e) }, func(l []float32) AttrValue { return AttrFloatList(l) })
	case AttrBool:
		return collect(elems, mixed, func(e AttrBool) bool { return bool(e) }, func(l []bool) AttrValue { return AttrBoolList(l) })
	case AttrType:
		return collect(elems, mixed, func(e AttrType) DataType { return DataType(e) }, func(l []DataType) AttrValue { return AttrTypeList(l) })
	case AttrShape:
		return collect(elems, mixed, func(e AttrShape) Shape { return Shape(e) }, func(l []Shape) AttrValue { return AttrShapeList(l) })
	case AttrTensor:
		return collect(elems, mixed, func(e AttrTensor) *Tensor { return e.Tensor }, func(l []*Tensor) AttrValue { return AttrTensorList(l) })
	case AttrFunc:
		return collect(elems, mixed, func(e AttrFunc) string { return string(e) }, func(l []string) AttrValue { return AttrFuncList(l) })
	}
	return nil, fmt.Errorf("%w: lists of %T", ErrUnknownAttr, elems[0])
}

func collect[E AttrValue, T any](elems []AttrValue, mixed func(int) error, get func(E) T, wrap func([]T) AttrValue) (AttrValue, error) {
	out := make([]T, len(elems))
	for i, elem := range elems {
		e, ok := elem.(E)
		if !ok {
			return nil, mixed(i)
		}
		out[i] = get(e)
	}
	return wrap(out), nil
}

// setAttr passes one attribute to the engine's setter for its kind.
func setAttr(d engine.OperationDescription, name string, value AttrValue) error {
	switch v := value.(type) {
	case AttrString:
		d.SetAttrString(name, string(v))
	case AttrInt:
		d.SetAttrInt(name, int64(v))
	case AttrFloat:
		d.SetAttrFloat(name, float32(v))
	case AttrBool:
		d.SetAttrBool(name, bool(v))
	case AttrType:
		d.SetAttrType(name, DataType(v))
	case AttrShape:
		s := Shape(v)
		d.SetAttrShape(name, s.dims, s.NumDimensions())
	case AttrTensor:
		c, err := v.Tensor.native()
		if err != nil {
			return err
		}
		return d.SetAttrTensor(name, c)
	case AttrFunc:
		d.SetAttrFuncName(name, string(v))

	case AttrStringList:
		d.SetAttrStringList(name, v)
	case AttrIntList:
		d.SetAttrIntList(name, v)
	case AttrFloatList:
		d.SetAttrFloatList(name, v)
	case AttrBoolList:
		d.SetAttrBoolList(name, v)
	case AttrTypeList:
		d.SetAttrTypeList(name, v)
	case AttrShapeList:
		dims := make([][]int64, len(v))
		numDims := make([]int, len(v))
		for i, s := range v {
			dims[i] = s.dims
			numDims[i] = s.NumDimensions()
		}
		d.SetAttrShapeList(name, dims, numDims)
	case AttrTensorList:
		cs := make([]engine.Tensor, len(v))
		for i, t := range v {
			c, err := t.native()
			if err != nil {
				return err
			}
			cs[i] = c
		}
		return d.SetAttrTensorList(name, cs)
	case AttrFuncList:
		return d.SetAttrFuncNameList(name, v)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownAttr, value)
	}
	return nil
}
