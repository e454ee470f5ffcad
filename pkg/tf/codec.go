package tf

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// codecTypes maps the element types with a value encoding to their Go type.
var codecTypes = map[DataType]reflect.Type{
	Float:  reflect.TypeFor[float32](),
	Double: reflect.TypeFor[float64](),
	Int8:   reflect.TypeFor[int8](),
	Int16:  reflect.TypeFor[int16](),
	Int32:  reflect.TypeFor[int32](),
	Int64:  reflect.TypeFor[int64](),
	Uint8:  reflect.TypeFor[uint8](),
	Uint16: reflect.TypeFor[uint16](),
	Uint32: reflect.TypeFor[uint32](),
	Uint64: reflect.TypeFor[uint64](),
	Bool:   reflect.TypeFor[bool](),
	String: reflect.TypeFor[string](),
}

func isCodecType(dt DataType) bool {
	_, ok := codecTypes[dt]
	return ok
}

// kindTypes is the inference rule from a Go scalar kind to a DataType. int
// and uint are always 64-bit so that inference does not depend on the
// platform.
var kindTypes = map[reflect.Kind]DataType{
	reflect.Float32: Float,
	reflect.Float64: Double,
	reflect.Int8:    Int8,
	reflect.Int16:   Int16,
	reflect.Int32:   Int32,
	reflect.Int64:   Int64,
	reflect.Int:     Int64,
	reflect.Uint8:   Uint8,
	reflect.Uint16:  Uint16,
	reflect.Uint32:  Uint32,
	reflect.Uint64:  Uint64,
	reflect.Uint:    Uint64,
	reflect.Bool:    Bool,
	reflect.String:  String,
}

func isSequence(v reflect.Value) bool {
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}

func unwrap(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	return v
}

// InferDataType returns the type NewTensor would give value: that of its
// first scalar.
func InferDataType(value any) (DataType, error) {
	v := unwrap(reflect.ValueOf(value))
	if !v.IsValid() {
		return 0, fmt.Errorf("%w: cannot infer type of nil", ErrTypeMismatch)
	}
	for isSequence(v) {
		if v.Len() == 0 {
			return inferFromType(v.Type())
		}
		v = unwrap(v.Index(0))
	}
	dt, ok := kindTypes[v.Kind()]
	if !ok {
		return 0, fmt.Errorf("%w: cannot infer type of %v", ErrTypeMismatch, v.Type())
	}
	return dt, nil
}

// inferFromType handles empty sequences, where only the static type is left.
func inferFromType(t reflect.Type) (DataType, error) {
	for t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	dt, ok := kindTypes[t.Kind()]
	if !ok {
		return 0, fmt.Errorf("%w: cannot infer type of empty %v", ErrTypeMismatch, t)
	}
	return dt, nil
}

// InferShape returns the shape NewTensor would give value: the length of
// each nesting level, following the first element. Empty typed slices
// contribute a 0 for each remaining level of their static type.
func InferShape(value any) ([]int64, error) {
	v := unwrap(reflect.ValueOf(value))
	if !v.IsValid() {
		return nil, fmt.Errorf("%w: cannot infer shape of nil", ErrShapeMismatch)
	}
	shape := []int64{}
	for isSequence(v) {
		shape = append(shape, int64(v.Len()))
		if v.Len() == 0 {
			for t := v.Type().Elem(); t.Kind() == reflect.Slice || t.Kind() == reflect.Array; t = t.Elem() {
				shape = append(shape, 0)
			}
			break
		}
		v = unwrap(v.Index(0))
	}
	return shape, nil
}

// encoder walks a nested value in row-major order, carrying the flat index
// of the next element.
type encoder struct {
	engine engine.Engine
	dtype  DataType
	shape  []int64
	// strict requires every scalar to be of the Go kind the type was
	// inferred from, instead of converting.
	strict bool

	buf   []byte
	index int
}

// encode allocates a native tensor and fills it from v. The tensor is
// released if any element fails to encode.
func (enc *encoder) encode(v reflect.Value) (engine.Tensor, error) {
	if enc.dtype == String {
		var values []string
		err := enc.walk(v, 0, func(leaf reflect.Value) error {
			if leaf.Kind() != reflect.String {
				return enc.mismatch(leaf)
			}
			values = append(values, leaf.String())
			return nil
		})
		if err != nil {
			return nil, err
		}
		return enc.allocateStrings(values)
	}

	size, err := engine.ByteSize(enc.dtype, enc.shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShapeMismatch, status.Convert(err).Message())
	}
	c, err := enc.engine.AllocateTensor(enc.dtype, enc.shape, size)
	if err != nil {
		return nil, err
	}
	enc.buf = c.Data()
	enc.index = 0
	if err := enc.walk(v, 0, enc.putScalar); err != nil {
		c.Delete()
		return nil, err
	}
	return c, nil
}

func (enc *encoder) walk(v reflect.Value, depth int, leaf func(reflect.Value) error) error {
	v = unwrap(v)
	if depth == len(enc.shape) {
		if isSequence(v) {
			return fmt.Errorf("%w: nesting deeper than rank %d", ErrShapeMismatch, len(enc.shape))
		}
		return leaf(v)
	}
	if !isSequence(v) {
		return fmt.Errorf("%w: expected a sequence of length %d at dimension %d, got %v", ErrShapeMismatch, enc.shape[depth], depth, describe(v))
	}
	if int64(v.Len()) != enc.shape[depth] {
		return fmt.Errorf("%w: dimension %d has length %d, expected %d", ErrShapeMismatch, depth, v.Len(), enc.shape[depth])
	}
	for i := range v.Len() {
		if err := enc.walk(v.Index(i), depth+1, leaf); err != nil {
			return err
		}
	}
	return nil
}

func describe(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	return v.Type().String()
}

func (enc *encoder) mismatch(v reflect.Value) error {
	return fmt.Errorf("%w: cannot encode %s as %v", ErrTypeMismatch, describe(v), enc.dtype)
}

func (enc *encoder) putScalar(v reflect.Value) error {
	if !v.IsValid() {
		return enc.mismatch(v)
	}
	if enc.strict && kindTypes[v.Kind()] != enc.dtype {
		return enc.mismatch(v)
	}

	i := enc.index
	enc.index++
	buf := enc.buf
	switch enc.dtype {
	case Bool:
		if v.Kind() != reflect.Bool {
			return enc.mismatch(v)
		}
		buf[i] = 0
		if v.Bool() {
			buf[i] = 1
		}
		return nil
	case Float:
		f, ok := asFloat(v)
		if !ok {
			return enc.mismatch(v)
		}
		binary.NativeEndian.PutUint32(buf[4*i:], math.Float32bits(float32(f)))
		return nil
	case Double:
		f, ok := asFloat(v)
		if !ok {
			return enc.mismatch(v)
		}
		binary.NativeEndian.PutUint64(buf[8*i:], math.Float64bits(f))
		return nil
	}

	w, ok := asWord(v)
	if !ok {
		return enc.mismatch(v)
	}
	if !fitsInteger(v, enc.dtype) {
		return fmt.Errorf("%w: %v overflows %v", ErrTypeMismatch, v, enc.dtype)
	}
	switch enc.dtype.Size() {
	case 1:
		buf[i] = byte(w)
	case 2:
		binary.NativeEndian.PutUint16(buf[2*i:], uint16(w))
	case 4:
		binary.NativeEndian.PutUint32(buf[4*i:], uint32(w))
	case 8:
		binary.NativeEndian.PutUint64(buf[8*i:], w)
	}
	return nil
}

// fitsInteger reports whether the integer part of v is representable in
// the integer type dt.
func fitsInteger(v reflect.Value, dt DataType) bool {
	bits := 8 * dt.Size()
	signed := dt == Int8 || dt == Int16 || dt == Int32 || dt == Int64
	var lo int64 = math.MinInt64 >> (64 - bits)
	var hi uint64 = math.MaxUint64 >> (64 - bits)
	if signed {
		hi = uint64(-(lo + 1))
	}
	switch {
	case v.CanInt():
		x := v.Int()
		if x < 0 {
			return signed && x >= lo
		}
		return uint64(x) <= hi
	case v.CanUint():
		return v.Uint() <= hi
	case v.CanFloat():
		f := math.Trunc(v.Float())
		if signed {
			return f >= float64(lo) && f < -float64(lo)
		}
		return f >= 0 && f < float64(hi)+1
	}
	return false
}

func asFloat(v reflect.Value) (float64, bool) {
	switch {
	case v.CanFloat():
		return v.Float(), true
	case v.CanInt():
		return float64(v.Int()), true
	case v.CanUint():
		return float64(v.Uint()), true
	}
	return 0, false
}

// asWord returns the two's complement bits of an integer value. Floats are
// truncated toward zero.
func asWord(v reflect.Value) (uint64, bool) {
	switch {
	case v.CanInt():
		return uint64(v.Int()), true
	case v.CanUint():
		return v.Uint(), true
	case v.CanFloat():
		return uint64(int64(v.Float())), true
	}
	return 0, false
}

// allocateStrings builds a STRING tensor: a table of 8-byte offsets, one
// per element, followed by the engine's encoding of each string.
func (enc *encoder) allocateStrings(values []string) (engine.Tensor, error) {
	table := 8 * len(values)
	size := table
	for _, s := range values {
		size += enc.engine.StringEncodedSize(len(s))
	}
	if size > engine.MaxByteSize {
		return nil, fmt.Errorf("%w: %d strings need more than %d bytes", ErrShapeMismatch, len(values), int64(engine.MaxByteSize))
	}
	c, err := enc.engine.AllocateTensor(String, enc.shape, size)
	if err != nil {
		return nil, err
	}
	buf := c.Data()
	offset := 0
	for i, s := range values {
		binary.NativeEndian.PutUint64(buf[8*i:], uint64(offset))
		n, err := enc.engine.StringEncode(s, buf[table+offset:])
		if err != nil {
			c.Delete()
			return nil, err
		}
		offset += n
	}
	return c, nil
}

// allocateEmptyStrings builds a STRING tensor of count empty strings.
func (enc *encoder) allocateEmptyStrings(count int64) (engine.Tensor, error) {
	width := enc.engine.StringEncodedSize(0)
	size, err := engine.BufferSize(count, 8+width)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShapeMismatch, status.Convert(err).Message())
	}
	c, err := enc.engine.AllocateTensor(String, enc.shape, size)
	if err != nil {
		return nil, err
	}
	buf := c.Data()
	table := 8 * int(count)
	for i := range int(count) {
		offset := i * width
		binary.NativeEndian.PutUint64(buf[8*i:], uint64(offset))
		if _, err := enc.engine.StringEncode("", buf[table+offset:]); err != nil {
			c.Delete()
			return nil, err
		}
	}
	return c, nil
}

// decoder rebuilds nested Go slices from a buffer in row-major order.
type decoder struct {
	engine engine.Engine
	dtype  DataType
	shape  []int64
	buf    []byte

	strings []string
	index   int
}

func (dec *decoder) decode() (any, error) {
	if dec.dtype == String {
		strs, err := dec.readStrings()
		if err != nil {
			return nil, err
		}
		dec.strings = strs
	} else if want, err := engine.ByteSize(dec.dtype, dec.shape); err != nil {
		return nil, err
	} else if len(dec.buf) != want {
		return nil, fmt.Errorf("%w: buffer has %d bytes, expected %d", ErrByteSizeMismatch, len(dec.buf), want)
	}

	t := codecTypes[dec.dtype]
	for range dec.shape {
		t = reflect.SliceOf(t)
	}
	dec.index = 0
	return dec.build(t, 0).Interface(), nil
}

func (dec *decoder) build(t reflect.Type, depth int) reflect.Value {
	if depth == len(dec.shape) {
		return dec.scalar()
	}
	n := int(dec.shape[depth])
	v := reflect.MakeSlice(t, n, n)
	for i := range n {
		v.Index(i).Set(dec.build(t.Elem(), depth+1))
	}
	return v
}

func (dec *decoder) scalar() reflect.Value {
	i := dec.index
	dec.index++
	buf := dec.buf
	var v any
	switch dec.dtype {
	case Float:
		v = math.Float32frombits(binary.NativeEndian.Uint32(buf[4*i:]))
	case Double:
		v = math.Float64frombits(binary.NativeEndian.Uint64(buf[8*i:]))
	case Int8:
		v = int8(buf[i])
	case Int16:
		v = int16(binary.NativeEndian.Uint16(buf[2*i:]))
	case Int32:
		v = int32(binary.NativeEndian.Uint32(buf[4*i:]))
	case Int64:
		v = int64(binary.NativeEndian.Uint64(buf[8*i:]))
	case Uint8:
		v = buf[i]
	case Uint16:
		v = binary.NativeEndian.Uint16(buf[2*i:])
	case Uint32:
		v = binary.NativeEndian.Uint32(buf[4*i:])
	case Uint64:
		v = binary.NativeEndian.Uint64(buf[8*i:])
	case Bool:
		v = buf[i] != 0
	case String:
		v = dec.strings[i]
	}
	return reflect.ValueOf(v)
}

func (dec *decoder) readStrings() ([]string, error) {
	n, err := engine.NumElements(dec.shape)
	if err != nil {
		return nil, err
	}
	if n > int64(len(dec.buf)/8) {
		return nil, fmt.Errorf("%w: string tensor of %d elements has only %d bytes", ErrByteSizeMismatch, n, len(dec.buf))
	}
	count := int(n)
	table := 8 * count
	region := dec.buf[table:]
	out := make([]string, count)
	for i := range out {
		offset := binary.NativeEndian.Uint64(dec.buf[8*i:])
		if offset >= uint64(len(region)) {
			return nil, fmt.Errorf("%w: string %d has offset %d past the end of the data", ErrByteSizeMismatch, i, offset)
		}
		s, _, err := dec.engine.StringDecode(region[offset:])
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
