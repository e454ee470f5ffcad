package fallback

import (
	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type attrKind int

const (
	attrString attrKind = iota
	attrInt
	attrFloat
	attrBool
	attrType
	attrShape
	attrTensor
	attrFunc
)

func (k attrKind) String() string {
	switch k {
	case attrString:
		return "string"
	case attrInt:
		return "int"
	case attrFloat:
		return "float"
	case attrBool:
		return "bool"
	case attrType:
		return "type"
	case attrShape:
		return "shape"
	case attrTensor:
		return "tensor"
	case attrFunc:
		return "func"
	}
	return "unknown"
}

// shapeValue is a shape attribute; known is false for unknown rank.
type shapeValue struct {
	dims  []int64
	known bool
}

// attrValue holds a scalar as a single-element list with list unset.
type attrValue struct {
	kind attrKind
	list bool

	s       []string
	i       []int64
	f       []float32
	b       []bool
	types   []engine.DataType
	shapes  []shapeValue
	tensors []*tensor
}

func (a *attrValue) len() int {
	switch a.kind {
	case attrString, attrFunc:
		return len(a.s)
	case attrInt:
		return len(a.i)
	case attrFloat:
		return len(a.f)
	case attrBool:
		return len(a.b)
	case attrType:
		return len(a.types)
	case attrShape:
		return len(a.shapes)
	case attrTensor:
		return len(a.tensors)
	}
	return 0
}

func stringAttr(v string) attrValue { return attrValue{kind: attrString, s: []string{v}} }
func intAttr(v int64) attrValue     { return attrValue{kind: attrInt, i: []int64{v}} }
func typeAttr(v engine.DataType) attrValue {
	return attrValue{kind: attrType, types: []engine.DataType{v}}
}
