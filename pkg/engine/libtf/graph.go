//go:build libtensorflow

package libtf

// #include <stdlib.h>
// #include "tensorflow/c/c_api.h"
import "C"

import (
	"unsafe"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type graph struct {
	c *C.TF_Graph
}

var _ engine.Graph = (*graph)(nil)

func (g *graph) OperationByName(name string) engine.Operation {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	c := C.TF_GraphOperationByName(g.c, cname)
	if c == nil {
		return nil
	}
	return operation{c: c}
}

func (g *graph) NextOperation(pos *int) engine.Operation {
	cpos := C.size_t(*pos)
	c := C.TF_GraphNextOperation(g.c, &cpos)
	*pos = int(cpos)
	if c == nil {
		return nil
	}
	return operation{c: c}
}

func (g *graph) NewOperation(opType string, name string) engine.OperationDescription {
	return &description{graph: g, opType: opType, name: name}
}

func (g *graph) TensorShape(out engine.Output) ([]int64, bool, error) {
	cout, err := toOutput(out)
	if err != nil {
		return nil, false, err
	}
	s := newStatus()
	defer s.delete()
	numDims := C.TF_GraphGetTensorNumDims(g.c, cout, s.c)
	if err := s.Err(); err != nil {
		return nil, false, err
	}
	if numDims < 0 {
		return nil, false, nil
	}
	dims := make([]int64, numDims)
	if numDims > 0 {
		C.TF_GraphGetTensorShape(g.c, cout, (*C.int64_t)(unsafe.Pointer(&dims[0])), numDims, s.c)
		if err := s.Err(); err != nil {
			return nil, false, err
		}
	}
	return dims, true, nil
}

func (g *graph) ToGraphDef() ([]byte, error) {
	buf := C.TF_NewBuffer()
	defer C.TF_DeleteBuffer(buf)
	s := newStatus()
	defer s.delete()
	C.TF_GraphToGraphDef(g.c, buf, s.c)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return C.GoBytes(buf.data, C.int(buf.length)), nil
}

func (g *graph) ImportGraphDef(def []byte, prefix string) error {
	cprefix := C.CString(prefix)
	defer C.free(unsafe.Pointer(cprefix))

	opts := C.TF_NewImportGraphDefOptions()
	defer C.TF_DeleteImportGraphDefOptions(opts)
	C.TF_ImportGraphDefOptionsSetPrefix(opts, cprefix)

	var data unsafe.Pointer
	if len(def) > 0 {
		data = C.CBytes(def)
		defer C.free(data)
	}
	buf := C.TF_NewBufferFromString(data, C.size_t(len(def)))
	defer C.TF_DeleteBuffer(buf)

	s := newStatus()
	defer s.delete()
	C.TF_GraphImportGraphDef(g.c, buf, opts, s.c)
	return s.Err()
}

func (g *graph) Delete() {
	if g.c == nil {
		return
	}
	C.TF_DeleteGraph(g.c)
	g.c = nil
}

func toOutput(out engine.Output) (C.TF_Output, error) {
	op, ok := out.Op.(operation)
	if !ok || op.c == nil {
		return C.TF_Output{}, status.Errorf(codes.InvalidArgument, "operation %T does not belong to libtensorflow", out.Op)
	}
	return C.TF_Output{oper: op.c, index: C.int(out.Index)}, nil
}

// description records every call and replays them onto a native
// TF_OperationDescription in Finish. The C API has no way to abandon a
// description, so nothing native is created until the recorded calls are
// known to be valid.
type description struct {
	graph  *graph
	opType string
	name   string

	steps []func(c *C.TF_OperationDescription) error
	// err is the first problem seen while populating; Finish reports it.
	err      error
	finished bool
}

var _ engine.OperationDescription = (*description)(nil)

func (d *description) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *description) step(fn func(c *C.TF_OperationDescription) error) {
	d.steps = append(d.steps, fn)
}

// withName calls fn with name as a C string.
func (d *description) withName(name string, fn func(c *C.TF_OperationDescription, cname *C.char) error) {
	d.step(func(c *C.TF_OperationDescription) error {
		cname := C.CString(name)
		defer C.free(unsafe.Pointer(cname))
		return fn(c, cname)
	})
}

// cMalloc allocates room for n elements of size bytes, and at least one.
func cMalloc(n int, size uintptr) unsafe.Pointer {
	return C.malloc(C.size_t(uintptr(max(n, 1)) * size))
}

func (d *description) AddInput(in engine.Output) {
	cin, err := toOutput(in)
	if err != nil {
		d.fail(err)
		return
	}
	d.step(func(c *C.TF_OperationDescription) error {
		C.TF_AddInput(c, cin)
		return nil
	})
}

func (d *description) AddInputList(ins []engine.Output) {
	cins := make([]C.TF_Output, len(ins))
	for i, in := range ins {
		cin, err := toOutput(in)
		if err != nil {
			d.fail(err)
			return
		}
		cins[i] = cin
	}
	d.step(func(c *C.TF_OperationDescription) error {
		var ptr *C.TF_Output
		if len(cins) > 0 {
			ptr = &cins[0]
		}
		C.TF_AddInputList(c, ptr, C.int(len(cins)))
		return nil
	})
}

func (d *description) AddControlInput(op engine.Operation) {
	o, ok := op.(operation)
	if !ok || o.c == nil {
		d.fail(status.Errorf(codes.InvalidArgument, "control input %T does not belong to libtensorflow", op))
		return
	}
	d.step(func(c *C.TF_OperationDescription) error {
		C.TF_AddControlInput(c, o.c)
		return nil
	})
}

func (d *description) SetDevice(device string) {
	d.step(func(c *C.TF_OperationDescription) error {
		cdevice := C.CString(device)
		defer C.free(unsafe.Pointer(cdevice))
		C.TF_SetDevice(c, cdevice)
		return nil
	})
}

func (d *description) SetAttrString(name string, value string) {
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		cvalue := C.CString(value)
		defer C.free(unsafe.Pointer(cvalue))
		C.TF_SetAttrString(c, cname, unsafe.Pointer(cvalue), C.size_t(len(value)))
		return nil
	})
}

func (d *description) SetAttrStringList(name string, values []string) {
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		n := len(values)
		listPtr := cMalloc(n, unsafe.Sizeof(unsafe.Pointer(nil)))
		defer C.free(listPtr)
		lengthsPtr := cMalloc(n, unsafe.Sizeof(C.size_t(0)))
		defer C.free(lengthsPtr)

		list := unsafe.Slice((*unsafe.Pointer)(listPtr), n)
		lengths := unsafe.Slice((*C.size_t)(lengthsPtr), n)
		for i, v := range values {
			list[i] = unsafe.Pointer(C.CString(v))
			defer C.free(list[i])
			lengths[i] = C.size_t(len(v))
		}
		C.TF_SetAttrStringList(c, cname, (*unsafe.Pointer)(listPtr), (*C.size_t)(lengthsPtr), C.int(n))
		return nil
	})
}

func (d *description) SetAttrInt(name string, value int64) {
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		C.TF_SetAttrInt(c, cname, C.int64_t(value))
		return nil
	})
}

func (d *description) SetAttrIntList(name string, values []int64) {
	values = append([]int64(nil), values...)
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		var ptr *C.int64_t
		if len(values) > 0 {
			ptr = (*C.int64_t)(unsafe.Pointer(&values[0]))
		}
		C.TF_SetAttrIntList(c, cname, ptr, C.int(len(values)))
		return nil
	})
}

func (d *description) SetAttrFloat(name string, value float32) {
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		C.TF_SetAttrFloat(c, cname, C.float(value))
		return nil
	})
}

func (d *description) SetAttrFloatList(name string, values []float32) {
	values = append([]float32(nil), values...)
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		var ptr *C.float
		if len(values) > 0 {
			ptr = (*C.float)(unsafe.Pointer(&values[0]))
		}
		C.TF_SetAttrFloatList(c, cname, ptr, C.int(len(values)))
		return nil
	})
}

func (d *description) SetAttrBool(name string, value bool) {
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		C.TF_SetAttrBool(c, cname, boolToC(value))
		return nil
	})
}

func (d *description) SetAttrBoolList(name string, values []bool) {
	cvalues := make([]C.uchar, len(values))
	for i, v := range values {
		cvalues[i] = boolToC(v)
	}
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		var ptr *C.uchar
		if len(cvalues) > 0 {
			ptr = &cvalues[0]
		}
		C.TF_SetAttrBoolList(c, cname, ptr, C.int(len(cvalues)))
		return nil
	})
}

func boolToC(v bool) C.uchar {
	if v {
		return 1
	}
	return 0
}

func (d *description) SetAttrType(name string, value engine.DataType) {
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		C.TF_SetAttrType(c, cname, C.TF_DataType(value))
		return nil
	})
}

func (d *description) SetAttrTypeList(name string, values []engine.DataType) {
	cvalues := make([]C.TF_DataType, len(values))
	for i, v := range values {
		cvalues[i] = C.TF_DataType(v)
	}
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		var ptr *C.TF_DataType
		if len(cvalues) > 0 {
			ptr = &cvalues[0]
		}
		C.TF_SetAttrTypeList(c, cname, ptr, C.int(len(cvalues)))
		return nil
	})
}

func (d *description) SetAttrShape(name string, dims []int64, numDims int) {
	if numDims > 0 {
		dims = append([]int64(nil), dims[:numDims]...)
	}
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		var ptr *C.int64_t
		if numDims > 0 {
			ptr = (*C.int64_t)(unsafe.Pointer(&dims[0]))
		}
		C.TF_SetAttrShape(c, cname, ptr, C.int(numDims))
		return nil
	})
}

func (d *description) SetAttrShapeList(name string, dims [][]int64, numDims []int) {
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		n := len(dims)
		// The per-shape arrays live in C memory: a Go slice of pointers into
		// Go memory cannot cross the cgo boundary.
		dimsPtr := cMalloc(n, unsafe.Sizeof((*C.int64_t)(nil)))
		defer C.free(dimsPtr)
		numPtr := cMalloc(n, unsafe.Sizeof(C.int(0)))
		defer C.free(numPtr)

		cdims := unsafe.Slice((**C.int64_t)(dimsPtr), n)
		cnum := unsafe.Slice((*C.int)(numPtr), n)
		for i, shape := range dims {
			cnum[i] = C.int(numDims[i])
			cdims[i] = nil
			if numDims[i] <= 0 {
				continue
			}
			p := cMalloc(numDims[i], unsafe.Sizeof(C.int64_t(0)))
			defer C.free(p)
			copy(unsafe.Slice((*int64)(p), numDims[i]), shape)
			cdims[i] = (*C.int64_t)(p)
		}
		C.TF_SetAttrShapeList(c, cname, (**C.int64_t)(dimsPtr), (*C.int)(numPtr), C.int(n))
		return nil
	})
}

func (d *description) SetAttrTensor(name string, value engine.Tensor) error {
	t, err := asTensor(value)
	if err != nil {
		return err
	}
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		s := newStatus()
		defer s.delete()
		C.TF_SetAttrTensor(c, cname, t.c, s.c)
		return s.Err()
	})
	return nil
}

func (d *description) SetAttrTensorList(name string, values []engine.Tensor) error {
	ctensors := make([]*C.TF_Tensor, len(values))
	for i, v := range values {
		t, err := asTensor(v)
		if err != nil {
			return err
		}
		ctensors[i] = t.c
	}
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		var ptr **C.TF_Tensor
		if len(ctensors) > 0 {
			ptr = &ctensors[0]
		}
		s := newStatus()
		defer s.delete()
		C.TF_SetAttrTensorList(c, cname, ptr, C.int(len(ctensors)), s.c)
		return s.Err()
	})
	return nil
}

func (d *description) SetAttrFuncName(name string, value string) {
	d.withName(name, func(c *C.TF_OperationDescription, cname *C.char) error {
		cvalue := C.CString(value)
		defer C.free(unsafe.Pointer(cvalue))
		C.TF_SetAttrFuncName(c, cname, cvalue, C.size_t(len(value)))
		return nil
	})
}

// SetAttrFuncNameList has no counterpart in the C API.
func (d *description) SetAttrFuncNameList(name string, values []string) error {
	return status.Errorf(codes.Unimplemented, "attribute %q: lists of functions are not supported by libtensorflow", name)
}

// abandonedAttr is set on a description whose setup failed. It has no
// leading underscore, so node validation rejects it.
const abandonedAttr = "tfgraph_abandoned"

func (d *description) Finish() (engine.Operation, error) {
	if d.finished {
		return nil, status.Errorf(codes.FailedPrecondition, "operation '%s' has already been finished", d.name)
	}
	d.finished = true
	if d.err != nil {
		return nil, d.err
	}

	ctype := C.CString(d.opType)
	defer C.free(unsafe.Pointer(ctype))
	cname := C.CString(d.name)
	defer C.free(unsafe.Pointer(cname))
	c := C.TF_NewOperation(d.graph.c, ctype, cname)

	var stepErr error
	for _, step := range d.steps {
		if err := step(c); err != nil {
			stepErr = err
			break
		}
	}
	if stepErr != nil {
		// A failed setter leaves the description valid, and the C API has
		// no way to abandon one. An attribute no op declares makes
		// TF_FinishOperation reject the node and release the description.
		cattr := C.CString(abandonedAttr)
		C.TF_SetAttrBool(c, cattr, 1)
		C.free(unsafe.Pointer(cattr))
	}

	s := newStatus()
	defer s.delete()
	op := C.TF_FinishOperation(c, s.c)
	if stepErr != nil {
		if s.Err() == nil {
			return nil, status.Errorf(codes.Internal, "operation '%s' was added to the graph although setting it up failed: %v", d.name, stepErr)
		}
		return nil, stepErr
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return operation{c: op}, nil
}
