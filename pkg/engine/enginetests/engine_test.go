package enginetests

import (
	"encoding/binary"
	"math"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
	"k8s.io/examples/AI/tfgraph/pkg/engine/fallback"
)

// engines lists the implementations under test; a build-tagged file adds
// the native one.
var engines = map[string]func() engine.Engine{
	"fallback": func() engine.Engine { return fallback.New() },
}

func forEachEngine(t *testing.T, fn func(t *testing.T, e engine.Engine)) {
	for name, newEngine := range engines {
		t.Run(name, func(t *testing.T) {
			fn(t, newEngine())
		})
	}
}

func scalarFloat(t *testing.T, e engine.Engine, v float32) engine.Tensor {
	t.Helper()
	tensor, err := e.AllocateTensor(engine.Float, nil, 4)
	if err != nil {
		t.Fatalf("failed to allocate tensor: %v", err)
	}
	binary.NativeEndian.PutUint32(tensor.Data(), math.Float32bits(v))
	return tensor
}

func finish(t *testing.T, d engine.OperationDescription) engine.Operation {
	t.Helper()
	op, err := d.Finish()
	if err != nil {
		t.Fatalf("failed to finish operation: %v", err)
	}
	return op
}

func placeholder(t *testing.T, g engine.Graph, name string, dt engine.DataType) engine.Operation {
	t.Helper()
	d := g.NewOperation("Placeholder", name)
	d.SetAttrType("dtype", dt)
	return finish(t, d)
}

func TestEngine(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine.Engine) {
		g := e.NewGraph()
		defer g.Delete()

		x := placeholder(t, g, "x", engine.Float)
		y := placeholder(t, g, "y", engine.Float)
		d := g.NewOperation("AddV2", "sum")
		d.AddInput(engine.Output{Op: x})
		d.AddInput(engine.Output{Op: y})
		sum := finish(t, d)

		s, err := e.NewSession(g, engine.SessionOptions{})
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		defer s.Delete()

		feeds := []engine.Tensor{scalarFloat(t, e, 42), scalarFloat(t, e, 5)}
		results, err := s.Run(
			[]engine.Output{{Op: x}, {Op: y}}, feeds,
			[]engine.Output{{Op: sum}}, nil)
		if err != nil {
			t.Fatalf("failed to run: %v", err)
		}
		for _, f := range feeds {
			f.Delete()
		}

		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		got := math.Float32frombits(binary.NativeEndian.Uint32(results[0].Data()))
		results[0].Delete()
		if !FloatingPointEqual([]float32{got}, []float32{47}) {
			t.Errorf("expected 47, got %v", got)
		}

		if err := s.Close(); err != nil {
			t.Fatalf("failed to close session: %v", err)
		}
	})
}

func TestOperationIntrospection(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine.Engine) {
		g := e.NewGraph()
		defer g.Delete()

		a := placeholder(t, g, "a", engine.String)
		b := placeholder(t, g, "b", engine.String)
		d := g.NewOperation("StringJoin", "join")
		d.AddInputList([]engine.Output{{Op: a}, {Op: b}})
		d.SetAttrString("separator", "-")
		join := finish(t, d)

		d = g.NewOperation("NoOp", "after")
		d.AddControlInput(join)
		after := finish(t, d)

		if join.NumInputs() != 2 || join.NumOutputs() != 1 {
			t.Errorf("join has %d inputs and %d outputs", join.NumInputs(), join.NumOutputs())
		}
		if n, err := join.InputListLength("inputs"); err != nil || n != 2 {
			t.Errorf("InputListLength(inputs) = %d, %v", n, err)
		}
		if _, err := join.InputListLength("nope"); status.Code(err) != codes.InvalidArgument {
			t.Errorf("expected InvalidArgument for unknown arg, got %v", err)
		}
		if src := join.InputSource(1); src.Op != b || src.Index != 0 {
			t.Errorf("input 1 of join comes from %v:%d", src.Op.Name(), src.Index)
		}
		if n := a.OutputNumConsumers(0); n != 1 {
			t.Errorf("a has %d consumers", n)
		}
		consumers := a.OutputConsumers(0)
		if len(consumers) != 1 || consumers[0].Op != join || consumers[0].Index != 0 {
			t.Errorf("unexpected consumers of a: %v", consumers)
		}
		if controls := join.ControlOutputs(); len(controls) != 1 || controls[0] != after {
			t.Errorf("unexpected control outputs of join: %v", controls)
		}
		if controls := after.ControlInputs(); len(controls) != 1 || controls[0] != join {
			t.Errorf("unexpected control inputs of after: %v", controls)
		}
		if g.OperationByName("join") != join {
			t.Errorf("OperationByName(join) returned a different handle")
		}
		if g.OperationByName("missing") != nil {
			t.Errorf("OperationByName(missing) returned an operation")
		}

		count := 0
		pos := 0
		for op := g.NextOperation(&pos); op != nil; op = g.NextOperation(&pos) {
			count++
		}
		if count != 4 {
			t.Errorf("iterated over %d operations, expected 4", count)
		}
	})
}

func TestStringCodec(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine.Engine) {
		for _, s := range []string{"", "a", "c3", string(make([]byte, 200))} {
			buf := make([]byte, e.StringEncodedSize(len(s)))
			n, err := e.StringEncode(s, buf)
			if err != nil {
				t.Fatalf("StringEncode(%q) failed: %v", s, err)
			}
			got, consumed, err := e.StringDecode(buf[:n])
			if err != nil {
				t.Fatalf("StringDecode failed: %v", err)
			}
			if got != s || consumed != n {
				t.Errorf("round trip of %q gave (%q, %d), expected (%q, %d)", s, got, consumed, s, n)
			}
		}
	})
}

func TestGraphDefRoundTrip(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine.Engine) {
		g := e.NewGraph()
		defer g.Delete()
		x := placeholder(t, g, "x", engine.Float)
		d := g.NewOperation("Neg", "neg")
		d.AddInput(engine.Output{Op: x})
		finish(t, d)

		def, err := g.ToGraphDef()
		if err != nil {
			t.Fatalf("failed to export: %v", err)
		}

		imported := e.NewGraph()
		defer imported.Delete()
		if err := imported.ImportGraphDef(def, "imported"); err != nil {
			t.Fatalf("failed to import: %v", err)
		}
		neg := imported.OperationByName("imported/neg")
		if neg == nil {
			t.Fatalf("imported/neg not found")
		}
		if src := neg.InputSource(0); src.Op.Name() != "imported/x" {
			t.Errorf("imported/neg reads from %q", src.Op.Name())
		}
		if err := imported.ImportGraphDef([]byte("not a graph"), ""); err == nil {
			t.Errorf("expected an error importing garbage")
		}
	})
}

func TestListDevices(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine.Engine) {
		g := e.NewGraph()
		defer g.Delete()
		s, err := e.NewSession(g, engine.SessionOptions{})
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		defer s.Delete()
		devices, err := s.ListDevices()
		if err != nil {
			t.Fatalf("failed to list devices: %v", err)
		}
		found := false
		for _, d := range devices {
			if d.Type == "CPU" {
				found = true
			}
		}
		if !found {
			t.Errorf("no CPU device in %+v", devices)
		}
	})
}

func FloatingPointEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, value := range a {
		if math.Abs(float64(value-b[i])) > 0.00001 {
			return false
		}
	}
	return true
}
