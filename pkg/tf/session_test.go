package tf

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
	"k8s.io/examples/AI/tfgraph/pkg/engine/fallback"
)

// addGraph builds sum = x + 5.
func addGraph(t *testing.T, g *Graph) Output {
	t.Helper()
	s := NewScope(g)
	sum := s.Add(s.Placeholder("x", Float), s.Const(float32(5)))
	if err := s.Err(); err != nil {
		t.Fatalf("building graph: %v", err)
	}
	return sum
}

func scalar(t *testing.T, v any) *Tensor {
	t.Helper()
	tensor, err := NewTensor(v)
	if err != nil {
		t.Fatalf("NewTensor(%v): %v", v, err)
	}
	t.Cleanup(func() { tensor.Close() })
	return tensor
}

func value(t *testing.T, tensor *Tensor) any {
	t.Helper()
	v, err := tensor.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	return v
}

func TestSessionRun(t *testing.T) {
	g := NewGraph()
	defer g.Close()
	sum := addGraph(t, g)

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	for _, key := range []string{"x", "x:0"} {
		out, err := sess.RunOne(map[string]*Tensor{key: scalar(t, float32(42))}, sum)
		if err != nil {
			t.Fatalf("Run with feed %q: %v", key, err)
		}
		if got := value(t, out); got != float32(47) {
			t.Errorf("Run with feed %q = %v, want 47", key, got)
		}
		out.Close()
	}
}

func TestSessionRunConst(t *testing.T) {
	g := NewGraph()
	defer g.Close()
	s := NewScope(g)
	c := s.Const([]int32{10, 11, 12})
	if err := s.Err(); err != nil {
		t.Fatalf("building graph: %v", err)
	}

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	results, err := sess.Run(nil, []Output{c, c}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range results {
		if diff := cmp.Diff([]int32{10, 11, 12}, value(t, r)); diff != "" {
			t.Errorf("fetched Const (-want +got):\n%s", diff)
		}
		r.Close()
	}
}

func TestSessionTargets(t *testing.T) {
	g := NewGraph()
	defer g.Close()
	noop, err := g.AddOperation(OpSpec{Type: "NoOp"})
	if err != nil {
		t.Fatalf("AddOperation: %v", err)
	}

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	results, err := sess.Run(nil, nil, []*Operation{noop})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Run with only targets returned %d tensors", len(results))
	}
}

func TestSessionFeeds(t *testing.T) {
	g := NewGraph()
	defer g.Close()
	sum := addGraph(t, g)

	lenient, err := NewSession(g, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer lenient.Close()
	strict, err := NewSession(g, &SessionOptions{StrictFeeds: true})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer strict.Close()

	feeds := map[string]*Tensor{
		"x":       scalar(t, float32(1)),
		"missing": scalar(t, float32(2)),
	}
	out, err := lenient.RunOne(feeds, sum)
	if err != nil {
		t.Fatalf("Run with an unknown feed: %v", err)
	}
	if got := value(t, out); got != float32(6) {
		t.Errorf("Run = %v, want 6", got)
	}
	out.Close()

	_, err = strict.RunOne(feeds, sum)
	if !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("strict Run with an unknown feed = %v, want %v", err, ErrFeedNotFound)
	}
	if Code(err) != codes.NotFound {
		t.Errorf("strict Run code = %v, want %v", Code(err), codes.NotFound)
	}

	released := scalar(t, float32(3))
	released.Close()
	if _, err := lenient.RunOne(map[string]*Tensor{"x": released}, sum); !errors.Is(err, ErrReleased) {
		t.Errorf("Run with a released feed = %v, want %v", err, ErrReleased)
	}
}

func TestSessionUnfedPlaceholder(t *testing.T) {
	g := NewGraph()
	defer g.Close()
	sum := addGraph(t, g)

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	_, err = sess.RunOne(nil, sum)
	if Code(err) != codes.InvalidArgument {
		t.Fatalf("Run without feeding x code = %v, want %v (%v)", Code(err), codes.InvalidArgument, err)
	}
	if !strings.Contains(err.Error(), "You must feed a value for placeholder tensor 'x'") {
		t.Errorf("unexpected error message %q", err)
	}
}

func TestSessionClose(t *testing.T) {
	g := NewGraph()
	defer g.Close()
	sum := addGraph(t, g)

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := sess.RunOne(map[string]*Tensor{"x": scalar(t, float32(1))}, sum); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Run after Close = %v, want %v", err, ErrSessionClosed)
	}
}

// flakyEngine is the fallback engine with sessions whose first Close fails.
type flakyEngine struct {
	*fallback.Engine
}

func (e flakyEngine) NewSession(g engine.Graph, opts engine.SessionOptions) (engine.Session, error) {
	s, err := e.Engine.NewSession(g, opts)
	if err != nil {
		return nil, err
	}
	return &flakySession{Session: s, fail: true}, nil
}

type flakySession struct {
	engine.Session
	fail bool
}

func (s *flakySession) Close() error {
	if s.fail {
		s.fail = false
		return status.Error(codes.Internal, "device busy")
	}
	return s.Session.Close()
}

func TestSessionCloseFailureKeepsSessionOpen(t *testing.T) {
	g := NewGraphWithEngine(flakyEngine{fallback.New()})
	defer g.Close()
	sum := addGraph(t, g)

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Close(); Code(err) != codes.Internal {
		t.Fatalf("first Close() = %v, want an Internal error", err)
	}

	x, err := NewTensor(float32(1), WithEngine(g.Engine()))
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	defer x.Close()
	out, err := sess.RunOne(map[string]*Tensor{"x": x}, sum)
	if err != nil {
		t.Fatalf("Run after a failed Close: %v", err)
	}
	out.Close()

	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if _, err := sess.RunOne(map[string]*Tensor{"x": x}, sum); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Run after Close = %v, want %v", err, ErrSessionClosed)
	}
}

func TestSessionDevices(t *testing.T) {
	g := NewGraph()
	defer g.Close()
	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	devices, err := sess.Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) == 0 {
		t.Fatalf("no devices")
	}
	if devices[0].Type != "CPU" {
		t.Errorf("first device is %+v, want a CPU", devices[0])
	}
}

func TestSessionOptions(t *testing.T) {
	g := NewGraphWithEngine(fallback.New())
	defer g.Close()

	if _, err := NewSession(g, &SessionOptions{Config: []byte{0xff}}); Code(err) != codes.InvalidArgument {
		t.Errorf("NewSession with a malformed config code = %v, want %v", Code(err), codes.InvalidArgument)
	}
	if _, err := NewSession(g, &SessionOptions{Target: "grpc://remote:2222"}); Code(err) != codes.Unimplemented {
		t.Errorf("NewSession with a remote target code = %v, want %v", Code(err), codes.Unimplemented)
	}
}

func TestLoadSavedModel(t *testing.T) {
	e := fallback.New()
	src := NewGraphWithEngine(e)
	defer src.Close()
	addGraph(t, src)
	def, err := src.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dir := t.TempDir()
	if err := fallback.WriteSavedModel(dir, def, []string{"serve"}); err != nil {
		t.Fatalf("WriteSavedModel: %v", err)
	}

	if _, err := LoadSavedModelWithEngine(e, dir, []string{"train"}, nil); Code(err) != codes.NotFound {
		t.Errorf("loading with unknown tags code = %v, want %v", Code(err), codes.NotFound)
	}

	model, err := LoadSavedModelWithEngine(e, dir, []string{"serve"}, nil)
	if err != nil {
		t.Fatalf("LoadSavedModel: %v", err)
	}
	defer model.Close()

	x, err := NewTensor(float32(42), WithEngine(e))
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	defer x.Close()
	out, err := model.Session.RunOne(map[string]*Tensor{"x": x}, model.Graph.Operation("Add").Output(0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer out.Close()
	if got := value(t, out); got != float32(47) {
		t.Errorf("Run = %v, want 47", got)
	}
}
