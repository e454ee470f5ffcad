//go:build libtensorflow

package enginetests

import (
	"encoding/binary"
	"testing"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
	"k8s.io/examples/AI/tfgraph/pkg/engine/libtf"
)

func init() {
	engines["libtf"] = func() engine.Engine { return libtf.New() }
}

func TestLibtfFailedFinishAddsNothing(t *testing.T) {
	e := libtf.New()
	g := e.NewGraph()
	defer g.Delete()

	// One string whose length prefix runs past the end of the buffer.
	bad, err := e.AllocateTensor(engine.String, []int64{1}, 9)
	if err != nil {
		t.Fatalf("failed to allocate tensor: %v", err)
	}
	defer bad.Delete()
	binary.NativeEndian.PutUint64(bad.Data(), 0)
	bad.Data()[8] = 100

	d := g.NewOperation("Const", "c")
	d.SetAttrType("dtype", engine.String)
	if err := d.SetAttrTensor("value", bad); err != nil {
		t.Fatalf("SetAttrTensor failed before Finish: %v", err)
	}
	if _, err := d.Finish(); err == nil {
		t.Fatalf("Finish succeeded with a malformed tensor attribute")
	}
	if g.OperationByName("c") != nil {
		t.Errorf("failed operation is visible in the graph")
	}

	// The name is still free.
	placeholder(t, g, "c", engine.Float)
}
