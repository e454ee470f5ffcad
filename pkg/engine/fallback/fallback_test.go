package fallback

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

func floatTensor(t *testing.T, dims []int64, values ...float32) *tensor {
	t.Helper()
	out, err := newTensor(engine.Float, dims, 4*len(values))
	if err != nil {
		t.Fatalf("newTensor failed: %v", err)
	}
	copy(view[float32](out.data), values)
	return out
}

func TestStringEncodeRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", string(make([]byte, 300))} {
		buf := make([]byte, stringEncodedSize(len(s)))
		n, err := stringEncode(s, buf)
		if err != nil {
			t.Fatalf("stringEncode(%q) failed: %v", s, err)
		}
		if n != len(buf) {
			t.Errorf("stringEncode(%q) wrote %d bytes, expected %d", s, n, len(buf))
		}
		got, consumed, err := stringDecode(buf)
		if err != nil {
			t.Fatalf("stringDecode failed: %v", err)
		}
		if got != s || consumed != n {
			t.Errorf("stringDecode = (%q, %d), expected (%q, %d)", got, consumed, s, n)
		}
	}

	if _, err := stringEncode("abc", make([]byte, 2)); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for short buffer, got %v", err)
	}
	if _, _, err := stringDecode([]byte{5, 'a'}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for truncated string, got %v", err)
	}
}

func TestNewTensorValidatesSize(t *testing.T) {
	if _, err := newTensor(engine.Float, []int64{2, 3}, 20); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
	if _, err := newTensor(engine.DataType(99), nil, 0); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for unknown type, got %v", err)
	}
	d, err := newTensor(engine.Double, []int64{3}, 24)
	if err != nil {
		t.Fatalf("newTensor failed: %v", err)
	}
	if d.ByteSize() != 24 || d.NumDims() != 1 || d.Dim(0) != 3 {
		t.Errorf("unexpected tensor %+v", d)
	}
}

func TestNewTensorRejectsOversizedShapes(t *testing.T) {
	grid := []struct {
		name     string
		dt       engine.DataType
		dims     []int64
		byteSize int
		code     codes.Code
	}{
		{name: "wrapping byte size", dt: engine.Float, dims: []int64{1 << 62}, byteSize: 0, code: codes.InvalidArgument},
		{name: "wrapping element count", dt: engine.Int8, dims: []int64{1 << 32, 1 << 32}, byteSize: 0, code: codes.InvalidArgument},
		{name: "negative dimension", dt: engine.Float, dims: []int64{-2}, byteSize: 8, code: codes.InvalidArgument},
		{name: "string table larger than buffer", dt: engine.String, dims: []int64{1 << 62}, byteSize: 16, code: codes.InvalidArgument},
		{name: "over engine limit", dt: engine.Uint8, dims: []int64{1 << 33}, byteSize: 1 << 33, code: codes.ResourceExhausted},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			if _, err := newTensor(g.dt, g.dims, g.byteSize); status.Code(err) != g.code {
				t.Errorf("newTensor(%v, %v, %d) = %v, expected code %v", g.dt, g.dims, g.byteSize, err, g.code)
			}
		})
	}
}

// constGraphDef returns a GraphDef holding one Const node whose value is
// the given TensorProto.
func constGraphDef(dt engine.DataType, tensorProto []byte) []byte {
	var attr []byte
	attr = protowire.AppendTag(attr, attrValueTensor, protowire.BytesType)
	attr = protowire.AppendBytes(attr, tensorProto)

	var dtype []byte
	dtype = protowire.AppendTag(dtype, attrValueType, protowire.VarintType)
	dtype = protowire.AppendVarint(dtype, uint64(dt))

	var node []byte
	node = appendString(node, nodeDefName, "c")
	node = appendString(node, nodeDefOp, "Const")
	for _, a := range []struct {
		key   string
		value []byte
	}{{"dtype", dtype}, {"value", attr}} {
		var entry []byte
		entry = appendString(entry, mapEntryKey, a.key)
		entry = protowire.AppendTag(entry, mapEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, a.value)
		node = protowire.AppendTag(node, nodeDefAttr, protowire.BytesType)
		node = protowire.AppendBytes(node, entry)
	}

	var def []byte
	def = protowire.AppendTag(def, graphDefNode, protowire.BytesType)
	return protowire.AppendBytes(def, node)
}

// tensorProto encodes a TensorProto header with the given dims.
func tensorProto(dt engine.DataType, dims ...int64) []byte {
	var b []byte
	b = protowire.AppendTag(b, tensorDtype, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(dt))
	b = protowire.AppendTag(b, tensorShape, protowire.BytesType)
	return protowire.AppendBytes(b, marshalShape(shapeValue{dims: dims, known: true}))
}

func appendFloats(b []byte, values ...float32) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendPacked(b, tensorFloatVal, packed)
}

func TestImportRejectsBadConstTensors(t *testing.T) {
	grid := []struct {
		name  string
		dt    engine.DataType
		proto []byte
		code  codes.Code
	}{
		{
			name:  "overflowing shape",
			dt:    engine.Float,
			proto: appendFloats(tensorProto(engine.Float, 1<<62), 1),
			code:  codes.InvalidArgument,
		},
		{
			name:  "overflowing element count",
			dt:    engine.Float,
			proto: appendFloats(tensorProto(engine.Float, 1<<40, 1<<40), 1),
			code:  codes.InvalidArgument,
		},
		{
			name:  "fill beyond engine limit",
			dt:    engine.Float,
			proto: appendFloats(tensorProto(engine.Float, 1<<40), 1),
			code:  codes.ResourceExhausted,
		},
		{
			name:  "more values than elements",
			dt:    engine.Float,
			proto: appendFloats(tensorProto(engine.Float, 2), 1, 2, 3),
			code:  codes.InvalidArgument,
		},
		{
			name:  "short tensor_content",
			dt:    engine.Float,
			proto: appendString(tensorProto(engine.Float, 3), tensorContent, "\x00\x00\x00\x00"),
			code:  codes.InvalidArgument,
		},
		{
			name:  "overflowing string shape",
			dt:    engine.String,
			proto: appendString(tensorProto(engine.String, 1<<62), tensorStringVal, "a"),
			code:  codes.InvalidArgument,
		},
		{
			name:  "string fill beyond engine limit",
			dt:    engine.String,
			proto: appendString(tensorProto(engine.String, 1<<40), tensorStringVal, "a"),
			code:  codes.ResourceExhausted,
		},
		{
			name:  "more strings than elements",
			dt:    engine.String,
			proto: appendString(appendString(tensorProto(engine.String, 1), tensorStringVal, "a"), tensorStringVal, "b"),
			code:  codes.InvalidArgument,
		},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			imported := newGraph()
			if err := imported.ImportGraphDef(constGraphDef(g.dt, g.proto), ""); status.Code(err) != g.code {
				t.Fatalf("ImportGraphDef = %v, expected code %v", err, g.code)
			}
			if len(imported.nodes) != 0 {
				t.Errorf("failed import left %d nodes", len(imported.nodes))
			}
		})
	}
}

func TestImportFillsConstFromLastValue(t *testing.T) {
	imported := newGraph()
	if err := imported.ImportGraphDef(constGraphDef(engine.Float, appendFloats(tensorProto(engine.Float, 4), 1, 2)), ""); err != nil {
		t.Fatalf("ImportGraphDef failed: %v", err)
	}
	value := imported.byName["c"].attrs["value"].tensors[0]
	if diff := cmp.Diff([]float32{1, 2, 2, 2}, view[float32](value.data)); diff != "" {
		t.Errorf("unexpected const value (-want +got):\n%s", diff)
	}
}

func TestExportFailsOnCorruptStrings(t *testing.T) {
	g := newGraph()
	value, err := encodeStrings([]int64{1}, []string{"a"})
	if err != nil {
		t.Fatalf("encodeStrings failed: %v", err)
	}
	binary.NativeEndian.PutUint64(value.data, 100)
	buildOp(t, g, "Const", "c", func(d engine.OperationDescription) {
		d.SetAttrType("dtype", engine.String)
		if err := d.SetAttrTensor("value", value); err != nil {
			t.Fatalf("SetAttrTensor failed: %v", err)
		}
	})
	if _, err := g.ToGraphDef(); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for a corrupt string tensor, got %v", err)
	}
}

func TestBroadcast(t *testing.T) {
	x := floatTensor(t, []int64{2, 3}, 1, 2, 3, 4, 5, 6)
	y := floatTensor(t, []int64{3}, 10, 20, 30)
	out, err := elementwise(opAdd, x, y)
	if err != nil {
		t.Fatalf("elementwise failed: %v", err)
	}
	if diff := cmp.Diff([]int64{2, 3}, out.dimensions); diff != "" {
		t.Errorf("unexpected dims (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{11, 22, 33, 14, 25, 36}, view[float32](out.data)); diff != "" {
		t.Errorf("unexpected values (-want +got):\n%s", diff)
	}

	z := floatTensor(t, []int64{2}, 1, 2)
	if _, err := elementwise(opMul, x, z); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for incompatible shapes, got %v", err)
	}
}

func TestStringAdd(t *testing.T) {
	x, err := encodeStrings([]int64{2}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("encodeStrings failed: %v", err)
	}
	y, err := encodeStrings(nil, []string{"!"})
	if err != nil {
		t.Fatalf("encodeStrings failed: %v", err)
	}
	out, err := elementwise(opAdd, x, y)
	if err != nil {
		t.Fatalf("elementwise failed: %v", err)
	}
	got, err := decodeStrings(out)
	if err != nil {
		t.Fatalf("decodeStrings failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a!", "b!"}, got); diff != "" {
		t.Errorf("unexpected values (-want +got):\n%s", diff)
	}
}

func buildOp(t *testing.T, g *graph, opType, name string, setup func(d engine.OperationDescription)) *node {
	t.Helper()
	d := g.NewOperation(opType, name)
	if setup != nil {
		setup(d)
	}
	op, err := d.Finish()
	if err != nil {
		t.Fatalf("Finish(%s) failed: %v", name, err)
	}
	return op.(*node)
}

func TestFinishIsAtomic(t *testing.T) {
	g := newGraph()
	buildOp(t, g, "Placeholder", "x", func(d engine.OperationDescription) { d.SetAttrType("dtype", engine.Float) })
	ph := buildOp(t, g, "Placeholder", "i", func(d engine.OperationDescription) { d.SetAttrType("dtype", engine.Int32) })
	x := g.byName["x"]

	d := g.NewOperation("Add", "bad")
	d.AddInput(engine.Output{Op: x})
	d.AddInput(engine.Output{Op: ph})
	if _, err := d.Finish(); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for mixed input types, got %v", err)
	}
	if g.OperationByName("bad") != nil {
		t.Errorf("failed operation is visible in the graph")
	}
	if x.OutputNumConsumers(0) != 0 {
		t.Errorf("failed operation left a consumer on x")
	}

	d = g.NewOperation("Bogus", "op")
	if _, err := d.Finish(); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for unregistered op, got %v", err)
	}

	d = g.NewOperation("Placeholder", "x")
	d.SetAttrType("dtype", engine.Float)
	if _, err := d.Finish(); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for duplicate name, got %v", err)
	}
}

func TestSessionRun(t *testing.T) {
	g := newGraph()
	x := buildOp(t, g, "Placeholder", "x", func(d engine.OperationDescription) { d.SetAttrType("dtype", engine.Float) })
	y := buildOp(t, g, "Placeholder", "y", func(d engine.OperationDescription) { d.SetAttrType("dtype", engine.Float) })
	sum := buildOp(t, g, "Add", "sum", func(d engine.OperationDescription) {
		d.AddInput(engine.Output{Op: x})
		d.AddInput(engine.Output{Op: y})
	})

	e := New()
	s, err := e.NewSession(g, engine.SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	results, err := s.Run(
		[]engine.Output{{Op: x}, {Op: y}},
		[]engine.Tensor{floatTensor(t, nil, 42), floatTensor(t, nil, 5)},
		[]engine.Output{{Op: sum}},
		nil,
	)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if diff := cmp.Diff([]float32{47}, view[float32](results[0].Data())); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}

	_, err = s.Run([]engine.Output{{Op: x}}, []engine.Tensor{floatTensor(t, nil, 1)}, []engine.Output{{Op: sum}}, nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for unfed placeholder, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.Run(nil, nil, nil, nil); status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition after close, got %v", err)
	}
}

func TestGraphDefImportWithPrefix(t *testing.T) {
	g := newGraph()
	value := floatTensor(t, []int64{3}, 10, 11, 12)
	c := buildOp(t, g, "Const", "c", func(d engine.OperationDescription) {
		d.SetAttrType("dtype", engine.Float)
		if err := d.SetAttrTensor("value", value); err != nil {
			t.Fatalf("SetAttrTensor failed: %v", err)
		}
	})
	buildOp(t, g, "Neg", "n", func(d engine.OperationDescription) {
		d.AddInput(engine.Output{Op: c})
		d.AddControlInput(c)
	})

	def, err := g.ToGraphDef()
	if err != nil {
		t.Fatalf("ToGraphDef failed: %v", err)
	}

	imported := newGraph()
	if err := imported.ImportGraphDef(def, "p"); err != nil {
		t.Fatalf("ImportGraphDef failed: %v", err)
	}
	n := imported.byName["p/n"]
	if n == nil {
		t.Fatalf("p/n not found after import")
	}
	if got := n.inputs[0].node.name; got != "p/c" {
		t.Errorf("p/n input is %q, expected p/c", got)
	}
	if len(n.controlInputs) != 1 || n.controlInputs[0].name != "p/c" {
		t.Errorf("unexpected control inputs %v", n.controlInputs)
	}
	if diff := cmp.Diff([]float32{10, 11, 12}, view[float32](imported.byName["p/c"].attrs["value"].tensors[0].data)); diff != "" {
		t.Errorf("unexpected const value (-want +got):\n%s", diff)
	}

	if err := imported.ImportGraphDef(def, "p"); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for name clash, got %v", err)
	}
	if len(imported.nodes) != 2 {
		t.Errorf("failed import changed the graph: %d nodes", len(imported.nodes))
	}
}

func TestSavedModel(t *testing.T) {
	g := newGraph()
	buildOp(t, g, "Placeholder", "x", func(d engine.OperationDescription) { d.SetAttrType("dtype", engine.Float) })
	def, err := g.ToGraphDef()
	if err != nil {
		t.Fatalf("ToGraphDef failed: %v", err)
	}

	dir := t.TempDir()
	if err := WriteSavedModel(dir, def, []string{"serve"}); err != nil {
		t.Fatalf("WriteSavedModel failed: %v", err)
	}

	e := New()
	loaded := newGraph()
	s, err := e.LoadSessionFromSavedModel(engine.SessionOptions{}, dir, []string{"serve"}, loaded)
	if err != nil {
		t.Fatalf("LoadSessionFromSavedModel failed: %v", err)
	}
	defer s.Delete()
	if loaded.OperationByName("x") == nil {
		t.Errorf("x not found in loaded graph")
	}

	if _, err := e.LoadSessionFromSavedModel(engine.SessionOptions{}, dir, []string{"train"}, newGraph()); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for unknown tag, got %v", err)
	}
	if _, err := e.LoadSessionFromSavedModel(engine.SessionOptions{}, t.TempDir(), []string{"serve"}, newGraph()); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for missing model, got %v", err)
	}
}
