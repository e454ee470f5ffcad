package fallback

import (
	"encoding/binary"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// Field numbers of the GraphDef protobuf family.
const (
	graphDefNode     protowire.Number = 1
	graphDefVersions protowire.Number = 4

	versionDefProducer protowire.Number = 1

	nodeDefName   protowire.Number = 1
	nodeDefOp     protowire.Number = 2
	nodeDefInput  protowire.Number = 3
	nodeDefDevice protowire.Number = 4
	nodeDefAttr   protowire.Number = 5

	mapEntryKey   protowire.Number = 1
	mapEntryValue protowire.Number = 2

	attrValueList   protowire.Number = 1
	attrValueS      protowire.Number = 2
	attrValueI      protowire.Number = 3
	attrValueF      protowire.Number = 4
	attrValueB      protowire.Number = 5
	attrValueType   protowire.Number = 6
	attrValueShape  protowire.Number = 7
	attrValueTensor protowire.Number = 8
	attrValueFunc   protowire.Number = 10

	listValueS      protowire.Number = 2
	listValueI      protowire.Number = 3
	listValueF      protowire.Number = 4
	listValueB      protowire.Number = 5
	listValueType   protowire.Number = 6
	listValueShape  protowire.Number = 7
	listValueTensor protowire.Number = 8
	listValueFunc   protowire.Number = 9

	nameAttrListName protowire.Number = 1

	shapeDim         protowire.Number = 2
	shapeUnknownRank protowire.Number = 3
	dimSize          protowire.Number = 1

	tensorDtype     protowire.Number = 1
	tensorShape     protowire.Number = 2
	tensorContent   protowire.Number = 4
	tensorFloatVal  protowire.Number = 5
	tensorDoubleVal protowire.Number = 6
	tensorIntVal    protowire.Number = 7
	tensorStringVal protowire.Number = 8
	tensorInt64Val  protowire.Number = 10
	tensorBoolVal   protowire.Number = 11
	tensorUint32Val protowire.Number = 16
	tensorUint64Val protowire.Number = 17
)

const graphDefProducer = 27

type nodeDef struct {
	name   string
	op     string
	device string
	inputs []string
	attrs  map[string]attrValue
}

func marshalGraphDef(nodes []*node) ([]byte, error) {
	var b []byte
	for _, n := range nodes {
		def, err := marshalNodeDef(n)
		if err != nil {
			return nil, status.Errorf(status.Code(err), "node %s: %s", n.name, status.Convert(err).Message())
		}
		b = protowire.AppendTag(b, graphDefNode, protowire.BytesType)
		b = protowire.AppendBytes(b, def)
	}
	var versions []byte
	versions = protowire.AppendTag(versions, versionDefProducer, protowire.VarintType)
	versions = protowire.AppendVarint(versions, graphDefProducer)
	b = protowire.AppendTag(b, graphDefVersions, protowire.BytesType)
	b = protowire.AppendBytes(b, versions)
	return b, nil
}

func marshalNodeDef(n *node) ([]byte, error) {
	var b []byte
	b = appendString(b, nodeDefName, n.name)
	b = appendString(b, nodeDefOp, n.opType)
	for _, in := range n.inputs {
		b = appendString(b, nodeDefInput, in.String())
	}
	for _, c := range n.controlInputs {
		b = appendString(b, nodeDefInput, "^"+c.name)
	}
	if n.device != "" {
		b = appendString(b, nodeDefDevice, n.device)
	}
	for _, key := range slices.Sorted(maps.Keys(n.attrs)) {
		value := n.attrs[key]
		encoded, err := marshalAttrValue(&value)
		if err != nil {
			return nil, status.Errorf(status.Code(err), "attribute %q: %s", key, status.Convert(err).Message())
		}
		var entry []byte
		entry = appendString(entry, mapEntryKey, key)
		entry = protowire.AppendTag(entry, mapEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, encoded)
		b = protowire.AppendTag(b, nodeDefAttr, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func marshalAttrValue(a *attrValue) ([]byte, error) {
	var b []byte
	if a.list {
		list, err := marshalListValue(a)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, attrValueList, protowire.BytesType)
		return protowire.AppendBytes(b, list), nil
	}
	switch a.kind {
	case attrString:
		b = appendString(b, attrValueS, a.s[0])
	case attrInt:
		b = protowire.AppendTag(b, attrValueI, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.i[0]))
	case attrFloat:
		b = protowire.AppendTag(b, attrValueF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.f[0]))
	case attrBool:
		b = protowire.AppendTag(b, attrValueB, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(a.b[0]))
	case attrType:
		b = protowire.AppendTag(b, attrValueType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.types[0]))
	case attrShape:
		b = protowire.AppendTag(b, attrValueShape, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalShape(a.shapes[0]))
	case attrTensor:
		t, err := marshalTensor(a.tensors[0])
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, attrValueTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, t)
	case attrFunc:
		b = protowire.AppendTag(b, attrValueFunc, protowire.BytesType)
		b = protowire.AppendBytes(b, appendString(nil, nameAttrListName, a.s[0]))
	}
	return b, nil
}

func marshalListValue(a *attrValue) ([]byte, error) {
	var b []byte
	switch a.kind {
	case attrString:
		for _, s := range a.s {
			b = appendString(b, listValueS, s)
		}
	case attrInt:
		var packed []byte
		for _, v := range a.i {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendPacked(b, listValueI, packed)
	case attrFloat:
		var packed []byte
		for _, v := range a.f {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = appendPacked(b, listValueF, packed)
	case attrBool:
		var packed []byte
		for _, v := range a.b {
			packed = protowire.AppendVarint(packed, protowire.EncodeBool(v))
		}
		b = appendPacked(b, listValueB, packed)
	case attrType:
		var packed []byte
		for _, v := range a.types {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendPacked(b, listValueType, packed)
	case attrShape:
		for _, s := range a.shapes {
			b = protowire.AppendTag(b, listValueShape, protowire.BytesType)
			b = protowire.AppendBytes(b, marshalShape(s))
		}
	case attrTensor:
		for i, t := range a.tensors {
			encoded, err := marshalTensor(t)
			if err != nil {
				return nil, status.Errorf(status.Code(err), "tensor %d: %s", i, status.Convert(err).Message())
			}
			b = protowire.AppendTag(b, listValueTensor, protowire.BytesType)
			b = protowire.AppendBytes(b, encoded)
		}
	case attrFunc:
		for _, s := range a.s {
			b = protowire.AppendTag(b, listValueFunc, protowire.BytesType)
			b = protowire.AppendBytes(b, appendString(nil, nameAttrListName, s))
		}
	}
	return b, nil
}

func appendPacked(b []byte, num protowire.Number, packed []byte) []byte {
	if len(packed) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func marshalShape(s shapeValue) []byte {
	var b []byte
	if !s.known {
		b = protowire.AppendTag(b, shapeUnknownRank, protowire.VarintType)
		return protowire.AppendVarint(b, 1)
	}
	for _, d := range s.dims {
		var dim []byte
		dim = protowire.AppendTag(dim, dimSize, protowire.VarintType)
		dim = protowire.AppendVarint(dim, uint64(d))
		b = protowire.AppendTag(b, shapeDim, protowire.BytesType)
		b = protowire.AppendBytes(b, dim)
	}
	return b
}

func marshalTensor(t *tensor) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, tensorDtype, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.dtype))
	b = protowire.AppendTag(b, tensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalShape(shapeValue{dims: t.dimensions, known: true}))
	if t.dtype == engine.String {
		values, err := decodeStrings(t)
		if err != nil {
			return nil, err
		}
		for _, s := range values {
			b = appendString(b, tensorStringVal, s)
		}
		return b, nil
	}
	b = protowire.AppendTag(b, tensorContent, protowire.BytesType)
	return protowire.AppendBytes(b, littleEndianContent(t)), nil
}

// littleEndianContent returns the tensor buffer in the byte order used by
// tensor_content, which is little endian regardless of host.
func littleEndianContent(t *tensor) []byte {
	out := slices.Clone(t.data)
	if nativeIsLittleEndian() {
		return out
	}
	swapBytes(out, t.dtype.Size())
	return out
}

func nativeIsLittleEndian() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 1
}

func swapBytes(b []byte, width int) {
	if width <= 1 {
		return
	}
	for i := 0; i+width <= len(b); i += width {
		slices.Reverse(b[i : i+width])
	}
}

func unmarshalGraphDef(b []byte) ([]nodeDef, error) {
	var nodes []nodeDef
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == graphDefNode && typ == protowire.BytesType {
			n, err := unmarshalNodeDef(v)
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func unmarshalNodeDef(b []byte) (nodeDef, error) {
	n := nodeDef{attrs: make(map[string]attrValue)}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case nodeDefName:
			n.name = string(v)
		case nodeDefOp:
			n.op = string(v)
		case nodeDefInput:
			n.inputs = append(n.inputs, string(v))
		case nodeDefDevice:
			n.device = string(v)
		case nodeDefAttr:
			var key string
			var value attrValue
			var found bool
			err := walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				switch num {
				case mapEntryKey:
					key = string(v)
				case mapEntryValue:
					a, ok, err := unmarshalAttrValue(v)
					if err != nil {
						return err
					}
					value, found = a, ok
				}
				return nil
			})
			if err != nil {
				return err
			}
			if found {
				n.attrs[key] = value
			}
		}
		return nil
	})
	return n, err
}

// unmarshalAttrValue returns ok=false for an empty AttrValue.
func unmarshalAttrValue(b []byte) (attrValue, bool, error) {
	var a attrValue
	var ok bool
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		ok = true
		switch num {
		case attrValueList:
			l, err := unmarshalListValue(v)
			if err != nil {
				return err
			}
			a = l
		case attrValueS:
			a = stringAttr(string(v))
		case attrValueI:
			a = intAttr(int64(x))
		case attrValueF:
			a = attrValue{kind: attrFloat, f: []float32{math.Float32frombits(uint32(x))}}
		case attrValueB:
			a = attrValue{kind: attrBool, b: []bool{protowire.DecodeBool(x)}}
		case attrValueType:
			a = typeAttr(engine.DataType(x))
		case attrValueShape:
			s, err := unmarshalShape(v)
			if err != nil {
				return err
			}
			a = attrValue{kind: attrShape, shapes: []shapeValue{s}}
		case attrValueTensor:
			t, err := unmarshalTensor(v)
			if err != nil {
				return err
			}
			a = attrValue{kind: attrTensor, tensors: []*tensor{t}}
		case attrValueFunc:
			name, err := unmarshalNameAttrList(v)
			if err != nil {
				return err
			}
			a = attrValue{kind: attrFunc, s: []string{name}}
		default:
			ok = false
		}
		return nil
	})
	return a, ok, err
}

func unmarshalListValue(b []byte) (attrValue, error) {
	// An empty list carries no kind; it is taken as an empty int list and
	// re-typed against the op definition on import.
	a := attrValue{kind: attrInt, list: true}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case listValueS:
			a.kind = attrString
			a.s = append(a.s, string(v))
		case listValueI:
			a.kind = attrInt
			return forEachVarint(typ, v, x, func(u uint64) { a.i = append(a.i, int64(u)) })
		case listValueF:
			a.kind = attrFloat
			return forEachFixed32(typ, v, x, func(u uint32) { a.f = append(a.f, math.Float32frombits(u)) })
		case listValueB:
			a.kind = attrBool
			return forEachVarint(typ, v, x, func(u uint64) { a.b = append(a.b, protowire.DecodeBool(u)) })
		case listValueType:
			a.kind = attrType
			return forEachVarint(typ, v, x, func(u uint64) { a.types = append(a.types, engine.DataType(u)) })
		case listValueShape:
			a.kind = attrShape
			s, err := unmarshalShape(v)
			if err != nil {
				return err
			}
			a.shapes = append(a.shapes, s)
		case listValueTensor:
			a.kind = attrTensor
			t, err := unmarshalTensor(v)
			if err != nil {
				return err
			}
			a.tensors = append(a.tensors, t)
		case listValueFunc:
			a.kind = attrFunc
			name, err := unmarshalNameAttrList(v)
			if err != nil {
				return err
			}
			a.s = append(a.s, name)
		}
		return nil
	})
	return a, err
}

func unmarshalNameAttrList(b []byte) (string, error) {
	var name string
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		if num == nameAttrListName {
			name = string(v)
		}
		return nil
	})
	return name, err
}

func unmarshalShape(b []byte) (shapeValue, error) {
	s := shapeValue{known: true, dims: []int64{}}
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case shapeDim:
			size := int64(-1)
			if err := walkFields(v, func(num protowire.Number, _ protowire.Type, _ []byte, x uint64) error {
				if num == dimSize {
					size = int64(x)
				}
				return nil
			}); err != nil {
				return err
			}
			s.dims = append(s.dims, size)
		case shapeUnknownRank:
			if protowire.DecodeBool(x) {
				s.known = false
			}
		}
		return nil
	})
	if !s.known {
		s.dims = nil
	}
	return s, err
}

func unmarshalTensor(b []byte) (*tensor, error) {
	var (
		dtype   engine.DataType
		shape   shapeValue
		content []byte
		hasRaw  bool
		strs    []string
		words   []uint64
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case tensorDtype:
			dtype = engine.DataType(x)
		case tensorShape:
			s, err := unmarshalShape(v)
			if err != nil {
				return err
			}
			shape = s
		case tensorContent:
			content = v
			hasRaw = true
		case tensorStringVal:
			strs = append(strs, string(v))
		case tensorFloatVal:
			return forEachFixed32(typ, v, x, func(u uint32) { words = append(words, uint64(u)) })
		case tensorDoubleVal:
			return forEachFixed64(typ, v, x, func(u uint64) { words = append(words, u) })
		case tensorIntVal, tensorInt64Val, tensorBoolVal, tensorUint32Val, tensorUint64Val:
			return forEachVarint(typ, v, x, func(u uint64) { words = append(words, u) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !shape.known {
		return nil, status.Errorf(codes.InvalidArgument, "tensor proto has unknown shape")
	}
	count, err := engine.NumElements(shape.dims)
	if err != nil {
		return nil, err
	}

	// A proto may carry fewer values than elements, in which case the last
	// one fills the rest. More values than elements is an error.
	if dtype == engine.String {
		if int64(len(strs)) > count {
			return nil, status.Errorf(codes.InvalidArgument, "tensor proto has %d strings for %d elements", len(strs), count)
		}
		minSize, err := engine.BufferSize(count, 8+stringEncodedSize(0))
		if err != nil {
			return nil, err
		}
		if int64(minSize) > maxTensorBytes {
			return nil, status.Errorf(codes.ResourceExhausted, "string tensor of shape %v has too many elements", shape.dims)
		}
		values := make([]string, count)
		if len(strs) > 0 {
			for i := range values {
				values[i] = strs[min(i, len(strs)-1)]
			}
		}
		return encodeStrings(shape.dims, values)
	}

	size := dtype.Size()
	if size == 0 {
		return nil, status.Errorf(codes.Unimplemented, "tensor proto of type %v is not supported", dtype)
	}
	byteSize, err := engine.ByteSize(dtype, shape.dims)
	if err != nil {
		return nil, err
	}
	if hasRaw && len(content) != byteSize {
		return nil, status.Errorf(codes.InvalidArgument, "tensor_content has %d bytes, expected %d", len(content), byteSize)
	}
	if int64(len(words)) > count {
		return nil, status.Errorf(codes.InvalidArgument, "tensor proto has %d values for %d elements", len(words), count)
	}
	t, err := newTensor(dtype, shape.dims, byteSize)
	if err != nil {
		return nil, err
	}
	if hasRaw {
		copy(t.data, content)
		if !nativeIsLittleEndian() {
			swapBytes(t.data, size)
		}
		return t, nil
	}
	if len(words) == 0 {
		return t, nil
	}
	for i := range int(count) {
		storeWord(t.data, dtype, i, words[min(i, len(words)-1)])
	}
	return t, nil
}

// storeWord writes a proto scalar, as carried by the typed *_val fields,
// into element i of a buffer of type dt.
func storeWord(data []byte, dt engine.DataType, i int, w uint64) {
	switch dt.Size() {
	case 1:
		data[i] = byte(w)
	case 2:
		binary.NativeEndian.PutUint16(data[2*i:], uint16(w))
	case 4:
		binary.NativeEndian.PutUint32(data[4*i:], uint32(w))
	case 8:
		binary.NativeEndian.PutUint64(data[8*i:], w)
	}
}

// walkFields calls fn for every field of a message. Length-delimited fields
// are passed in v, scalar fields in x.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(n)
		}
		b = b[n:]
		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var u uint32
			u, n = protowire.ConsumeFixed32(b)
			x = uint64(u)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return malformed(n)
		}
		b = b[n:]
		if err := fn(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}

func malformed(n int) error {
	return status.Errorf(codes.InvalidArgument, "invalid GraphDef: %v", protowire.ParseError(n))
}

func forEachVarint(typ protowire.Type, v []byte, x uint64, fn func(uint64)) error {
	if typ != protowire.BytesType {
		fn(x)
		return nil
	}
	for len(v) > 0 {
		u, n := protowire.ConsumeVarint(v)
		if n < 0 {
			return malformed(n)
		}
		fn(u)
		v = v[n:]
	}
	return nil
}

func forEachFixed32(typ protowire.Type, v []byte, x uint64, fn func(uint32)) error {
	if typ != protowire.BytesType {
		fn(uint32(x))
		return nil
	}
	for len(v) > 0 {
		u, n := protowire.ConsumeFixed32(v)
		if n < 0 {
			return malformed(n)
		}
		fn(u)
		v = v[n:]
	}
	return nil
}

func forEachFixed64(typ protowire.Type, v []byte, x uint64, fn func(uint64)) error {
	if typ != protowire.BytesType {
		fn(x)
		return nil
	}
	for len(v) > 0 {
		u, n := protowire.ConsumeFixed64(v)
		if n < 0 {
			return malformed(n)
		}
		fn(u)
		v = v[n:]
	}
	return nil
}

// importName is the name a node of the imported graph ends up with.
func importName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

// parseInputRef splits "^ctrl", "name" and "name:1" references.
func parseInputRef(ref string) (name string, index int, control bool, err error) {
	if strings.HasPrefix(ref, "^") {
		return ref[1:], 0, true, nil
	}
	if i := strings.LastIndexByte(ref, ':'); i >= 0 {
		index, err := strconv.Atoi(ref[i+1:])
		if err != nil || index < 0 {
			return "", 0, false, status.Errorf(codes.InvalidArgument, "invalid input reference '%s'", ref)
		}
		return ref[:i], index, false, nil
	}
	return ref, 0, false, nil
}

type importNode struct {
	def  nodeDef
	deps []string
}

func (n importNode) NodeID() string       { return n.def.name }
func (n importNode) Dependencies() []string { return n.deps }

// stageImport validates every node of an imported graph without touching g.
func (g *graph) stageImport(defs []nodeDef, prefix string) ([]*node, error) {
	if prefix != "" && !validNodeName(strings.TrimSuffix(prefix, "/")) {
		return nil, status.Errorf(codes.InvalidArgument, "import prefix '%s' is not a valid node name", prefix)
	}

	pending := make([]importNode, 0, len(defs))
	byName := make(map[string]bool, len(defs))
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		def.name = importName(prefix, def.name)
		if byName[def.name] {
			return nil, status.Errorf(codes.InvalidArgument, "Node '%s' is not unique", def.name)
		}
		byName[def.name] = true
		names = append(names, def.name)

		var deps []string
		for i, ref := range def.inputs {
			name, index, control, err := parseInputRef(ref)
			if err != nil {
				return nil, err
			}
			name = importName(prefix, name)
			if control {
				def.inputs[i] = "^" + name
			} else if index == 0 {
				def.inputs[i] = name
			} else {
				def.inputs[i] = name + ":" + strconv.Itoa(index)
			}
			deps = append(deps, name)
		}
		pending = append(pending, importNode{def: def, deps: deps})
	}

	for _, p := range pending {
		for _, dep := range p.deps {
			if !byName[dep] {
				return nil, status.Errorf(codes.InvalidArgument, "Node '%s': Unknown input node '%s'", p.def.name, dep)
			}
		}
	}

	order, err := engine.BuildDAG(pending, names)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "GraphDef contains a cycle: %v", err)
	}
	defsByName := make(map[string]nodeDef, len(pending))
	for _, p := range pending {
		defsByName[p.def.name] = p.def
	}

	staged := make(map[string]*node, len(pending))
	out := make([]*node, 0, len(pending))
	exists := func(name string) bool {
		if _, ok := g.byName[name]; ok {
			return true
		}
		_, ok := staged[name]
		return ok
	}
	for _, name := range order {
		spec, err := importSpec(defsByName[name], staged)
		if err != nil {
			return nil, err
		}
		n, err := g.buildNode(spec, exists)
		if err != nil {
			return nil, err
		}
		staged[name] = n
		out = append(out, n)
	}
	return out, nil
}

// importSpec groups the flat NodeDef inputs by the op's input arguments.
func importSpec(def nodeDef, staged map[string]*node) (nodeSpec, error) {
	spec := nodeSpec{
		opType: def.op,
		name:   def.name,
		device: def.device,
		attrs:  def.attrs,
	}
	op, ok := registry[def.op]
	if !ok {
		return spec, status.Errorf(codes.NotFound, "Op type not registered '%s'", def.op)
	}
	for name, a := range spec.attrs {
		if ad, ok := op.attrs[name]; ok && a.list && a.len() == 0 {
			a.kind = ad.kind
			spec.attrs[name] = a
		}
	}

	var data []edge
	for _, ref := range def.inputs {
		name, index, control, err := parseInputRef(ref)
		if err != nil {
			return spec, err
		}
		producer := staged[name]
		if control {
			spec.controls = append(spec.controls, producer)
			continue
		}
		if index >= producer.NumOutputs() {
			return spec, status.Errorf(codes.InvalidArgument, "Node '%s': Connecting to invalid output %d of source node %s which has %d outputs", def.name, index, name, producer.NumOutputs())
		}
		data = append(data, edge{node: producer, index: index})
	}

	for _, arg := range op.inputs {
		if arg.numberAttr == "" {
			if len(data) == 0 {
				return spec, status.Errorf(codes.InvalidArgument, "Node '%s': missing input '%s'", def.name, arg.name)
			}
			spec.inputs = append(spec.inputs, inputGroup{edges: data[:1]})
			data = data[1:]
			continue
		}
		count, ok := def.attrs[arg.numberAttr]
		if !ok || count.kind != attrInt || count.list {
			return spec, status.Errorf(codes.InvalidArgument, "Node '%s': missing attr '%s' sizing input '%s'", def.name, arg.numberAttr, arg.name)
		}
		n := int(count.i[0])
		if n < 0 || n > len(data) {
			return spec, status.Errorf(codes.InvalidArgument, "Node '%s': input list '%s' expects %d tensors, %d remain", def.name, arg.name, n, len(data))
		}
		spec.inputs = append(spec.inputs, inputGroup{edges: data[:n], list: true})
		data = data[n:]
	}
	if len(data) != 0 {
		return spec, status.Errorf(codes.InvalidArgument, "Node '%s': %d unexpected inputs", def.name, len(data))
	}
	return spec, nil
}
