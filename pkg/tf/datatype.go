package tf

import "k8s.io/examples/AI/tfgraph/pkg/engine"

// DataType is the element type of a tensor.
type DataType = engine.DataType

const (
	Float      = engine.Float
	Double     = engine.Double
	Int32      = engine.Int32
	Uint8      = engine.Uint8
	Int16      = engine.Int16
	Int8       = engine.Int8
	String     = engine.String
	Complex64  = engine.Complex64
	Complex    = engine.Complex
	Int64      = engine.Int64
	Bool       = engine.Bool
	Qint8      = engine.Qint8
	Quint8     = engine.Quint8
	Qint32     = engine.Qint32
	Bfloat16   = engine.Bfloat16
	Qint16     = engine.Qint16
	Quint16    = engine.Quint16
	Uint16     = engine.Uint16
	Complex128 = engine.Complex128
	Half       = engine.Half
	Resource   = engine.Resource
	Variant    = engine.Variant
	Uint32     = engine.Uint32
	Uint64     = engine.Uint64
)
