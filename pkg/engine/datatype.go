package engine

import "fmt"

// DataType is the element type of a tensor. The numeric values are the ones
// used by the native engine.
type DataType int32

const (
	Float      DataType = 1
	Double     DataType = 2
	Int32      DataType = 3
	Uint8      DataType = 4
	Int16      DataType = 5
	Int8       DataType = 6
	String     DataType = 7
	Complex64  DataType = 8
	Int64      DataType = 9
	Bool       DataType = 10
	Qint8      DataType = 11
	Quint8     DataType = 12
	Qint32     DataType = 13
	Bfloat16   DataType = 14
	Qint16     DataType = 15
	Quint16    DataType = 16
	Uint16     DataType = 17
	Complex128 DataType = 18
	Half       DataType = 19
	Resource   DataType = 20
	Variant    DataType = 21
	Uint32     DataType = 22
	Uint64     DataType = 23
)

// Complex is an alias for Complex64.
const Complex = Complex64

var dataTypeInfo = map[DataType]struct {
	name string
	size int
}{
	Float:      {"float", 4},
	Double:     {"double", 8},
	Int32:      {"int32", 4},
	Uint8:      {"uint8", 1},
	Int16:      {"int16", 2},
	Int8:       {"int8", 1},
	String:     {"string", 0},
	Complex64:  {"complex64", 8},
	Int64:      {"int64", 8},
	Bool:       {"bool", 1},
	Qint8:      {"qint8", 1},
	Quint8:     {"quint8", 1},
	Qint32:     {"qint32", 4},
	Bfloat16:   {"bfloat16", 2},
	Qint16:     {"qint16", 2},
	Quint16:    {"quint16", 2},
	Uint16:     {"uint16", 2},
	Complex128: {"complex128", 16},
	Half:       {"half", 2},
	Resource:   {"resource", 0},
	Variant:    {"variant", 0},
	Uint32:     {"uint32", 4},
	Uint64:     {"uint64", 8},
}

// Valid reports whether dt is a member of the enumeration.
func (dt DataType) Valid() bool {
	_, ok := dataTypeInfo[dt]
	return ok
}

// Size returns the width in bytes of one element. It is 0 for STRING, whose
// elements are variable length, and for the opaque RESOURCE and VARIANT.
func (dt DataType) Size() int {
	return dataTypeInfo[dt].size
}

func (dt DataType) IsVariableLength() bool {
	return dt == String
}

// IsSerializable reports whether the raw buffer of a tensor of this type is
// meaningful outside the engine.
func (dt DataType) IsSerializable() bool {
	switch dt {
	case String, Resource, Variant:
		return false
	}
	return dt.Valid()
}

func (dt DataType) String() string {
	if info, ok := dataTypeInfo[dt]; ok {
		return info.name
	}
	return fmt.Sprintf("DataType(%d)", int32(dt))
}
