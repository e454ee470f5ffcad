//go:build libtensorflow

// Package libtf implements the engine interfaces over the TensorFlow C API.
// It is only built with the libtensorflow build tag, and needs the library
// and its headers to be installed.
package libtf

// #cgo LDFLAGS: -ltensorflow
// #include <stdlib.h>
// #include "tensorflow/c/c_api.h"
import "C"

import (
	"unsafe"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type Engine struct{}

var _ engine.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Version() string {
	return C.GoString(C.TF_Version())
}

// tfStatus owns a TF_Status for the duration of a single call.
type tfStatus struct {
	c *C.TF_Status
}

func newStatus() *tfStatus {
	return &tfStatus{c: C.TF_NewStatus()}
}

func (s *tfStatus) delete() {
	C.TF_DeleteStatus(s.c)
}

// Err converts the status into an error carrying the same code and message.
func (s *tfStatus) Err() error {
	code := codes.Code(C.TF_GetCode(s.c))
	if code == codes.OK {
		return nil
	}
	return status.Error(code, C.GoString(C.TF_Message(s.c)))
}

type tensor struct {
	c *C.TF_Tensor
}

var _ engine.Tensor = (*tensor)(nil)

func (e *Engine) AllocateTensor(dt engine.DataType, dims []int64, byteSize int) (engine.Tensor, error) {
	if !dt.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "invalid data type %d", int32(dt))
	}
	var dimsPtr *C.int64_t
	if len(dims) > 0 {
		dimsPtr = (*C.int64_t)(unsafe.Pointer(&dims[0]))
	}
	c := C.TF_AllocateTensor(C.TF_DataType(dt), dimsPtr, C.int(len(dims)), C.size_t(byteSize))
	if c == nil {
		return nil, status.Errorf(codes.ResourceExhausted, "unable to allocate %d bytes for a %v tensor", byteSize, dt)
	}
	return &tensor{c: c}, nil
}

func (t *tensor) DataType() engine.DataType { return engine.DataType(C.TF_TensorType(t.c)) }
func (t *tensor) NumDims() int              { return int(C.TF_NumDims(t.c)) }
func (t *tensor) Dim(i int) int64           { return int64(C.TF_Dim(t.c, C.int(i))) }
func (t *tensor) ByteSize() int             { return int(C.TF_TensorByteSize(t.c)) }

func (t *tensor) Data() []byte {
	n := t.ByteSize()
	if n == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(C.TF_TensorData(t.c)), n)
}

func (t *tensor) Delete() {
	if t.c == nil {
		return
	}
	C.TF_DeleteTensor(t.c)
	t.c = nil
}

func asTensor(t engine.Tensor) (*tensor, error) {
	lt, ok := t.(*tensor)
	if !ok || lt == nil || lt.c == nil {
		return nil, status.Errorf(codes.InvalidArgument, "tensor %T was not allocated by libtensorflow", t)
	}
	return lt, nil
}

func (e *Engine) StringEncodedSize(n int) int {
	return int(C.TF_StringEncodedSize(C.size_t(n)))
}

func (e *Engine) StringEncode(src string, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, status.Errorf(codes.InvalidArgument, "empty destination buffer")
	}
	cs := C.CString(src)
	defer C.free(unsafe.Pointer(cs))

	s := newStatus()
	defer s.delete()
	n := C.TF_StringEncode(cs, C.size_t(len(src)), (*C.char)(unsafe.Pointer(&dst[0])), C.size_t(len(dst)), s.c)
	if err := s.Err(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (e *Engine) StringDecode(src []byte) (string, int, error) {
	if len(src) == 0 {
		return "", 0, status.Errorf(codes.InvalidArgument, "empty source buffer")
	}
	var (
		dst    *C.char
		dstLen C.size_t
	)
	s := newStatus()
	defer s.delete()
	n := C.TF_StringDecode((*C.char)(unsafe.Pointer(&src[0])), C.size_t(len(src)), &dst, &dstLen, s.c)
	if err := s.Err(); err != nil {
		return "", 0, err
	}
	return C.GoStringN(dst, C.int(dstLen)), int(n), nil
}

func (e *Engine) NewGraph() engine.Graph {
	return &graph{c: C.TF_NewGraph()}
}

func newSessionOptions(opts engine.SessionOptions) (*C.TF_SessionOptions, error) {
	c := C.TF_NewSessionOptions()
	if opts.Target != "" {
		target := C.CString(opts.Target)
		defer C.free(unsafe.Pointer(target))
		C.TF_SetTarget(c, target)
	}
	if len(opts.Config) > 0 {
		s := newStatus()
		defer s.delete()
		C.TF_SetConfig(c, unsafe.Pointer(&opts.Config[0]), C.size_t(len(opts.Config)), s.c)
		if err := s.Err(); err != nil {
			C.TF_DeleteSessionOptions(c)
			return nil, err
		}
	}
	return c, nil
}

func (e *Engine) NewSession(g engine.Graph, opts engine.SessionOptions) (engine.Session, error) {
	lg, ok := g.(*graph)
	if !ok || lg == nil {
		return nil, status.Errorf(codes.InvalidArgument, "graph %T was not created by libtensorflow", g)
	}
	cOpts, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer C.TF_DeleteSessionOptions(cOpts)

	s := newStatus()
	defer s.delete()
	c := C.TF_NewSession(lg.c, cOpts, s.c)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &session{c: c, graph: lg}, nil
}

func (e *Engine) LoadSessionFromSavedModel(opts engine.SessionOptions, exportDir string, tags []string, g engine.Graph) (engine.Session, error) {
	lg, ok := g.(*graph)
	if !ok || lg == nil {
		return nil, status.Errorf(codes.InvalidArgument, "graph %T was not created by libtensorflow", g)
	}
	cOpts, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer C.TF_DeleteSessionOptions(cOpts)

	dir := C.CString(exportDir)
	defer C.free(unsafe.Pointer(dir))

	cTags := make([]*C.char, len(tags))
	for i, tag := range tags {
		cTags[i] = C.CString(tag)
		defer C.free(unsafe.Pointer(cTags[i]))
	}
	var tagsPtr **C.char
	if len(cTags) > 0 {
		tagsPtr = &cTags[0]
	}

	s := newStatus()
	defer s.delete()
	c := C.TF_LoadSessionFromSavedModel(cOpts, nil, dir, tagsPtr, C.int(len(cTags)), lg.c, nil, s.c)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &session{c: c, graph: lg}, nil
}
