// Package fallback is a pure-Go engine. It supports a small set of CPU ops
// and is used when the native library is not linked in.
package fallback

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

const version = "2.3.0-fallback"

type Engine struct{}

var _ engine.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Version() string {
	return version
}

func (e *Engine) AllocateTensor(dt engine.DataType, dims []int64, byteSize int) (engine.Tensor, error) {
	return newTensor(dt, dims, byteSize)
}

func (e *Engine) StringEncodedSize(n int) int {
	return stringEncodedSize(n)
}

func (e *Engine) StringEncode(src string, dst []byte) (int, error) {
	return stringEncode(src, dst)
}

func (e *Engine) StringDecode(src []byte) (string, int, error) {
	return stringDecode(src)
}

func (e *Engine) NewGraph() engine.Graph {
	return newGraph()
}

func (e *Engine) NewSession(g engine.Graph, opts engine.SessionOptions) (engine.Session, error) {
	fg, ok := g.(*graph)
	if !ok || fg == nil {
		return nil, status.Errorf(codes.InvalidArgument, "graph %T was not created by the fallback engine", g)
	}
	if fg.deleted {
		return nil, status.Errorf(codes.FailedPrecondition, "graph has been deleted")
	}
	if opts.Target != "" {
		return nil, status.Errorf(codes.Unimplemented, "the fallback engine only runs in-process, cannot connect to %q", opts.Target)
	}
	if err := walkFields(opts.Config, func(protowire.Number, protowire.Type, []byte, uint64) error { return nil }); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Unparseable ConfigProto")
	}
	return &session{graph: fg}, nil
}

func (e *Engine) LoadSessionFromSavedModel(opts engine.SessionOptions, exportDir string, tags []string, g engine.Graph) (engine.Session, error) {
	fg, ok := g.(*graph)
	if !ok || fg == nil {
		return nil, status.Errorf(codes.InvalidArgument, "graph %T was not created by the fallback engine", g)
	}
	def, err := readSavedModel(exportDir, tags)
	if err != nil {
		return nil, err
	}
	if err := fg.ImportGraphDef(def, ""); err != nil {
		return nil, err
	}
	return e.NewSession(fg, opts)
}
