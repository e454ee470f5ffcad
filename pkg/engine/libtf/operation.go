//go:build libtensorflow

package libtf

// #include <stdlib.h>
// #include "tensorflow/c/c_api.h"
import "C"

import (
	"unsafe"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// operation is a value type so that two handles to the same TF_Operation
// compare equal.
type operation struct {
	c *C.TF_Operation
}

var _ engine.Operation = operation{}

func (o operation) Name() string   { return C.GoString(C.TF_OperationName(o.c)) }
func (o operation) OpType() string { return C.GoString(C.TF_OperationOpType(o.c)) }
func (o operation) Device() string { return C.GoString(C.TF_OperationDevice(o.c)) }

func (o operation) NumInputs() int  { return int(C.TF_OperationNumInputs(o.c)) }
func (o operation) NumOutputs() int { return int(C.TF_OperationNumOutputs(o.c)) }

func (o operation) InputType(index int) engine.DataType {
	return engine.DataType(C.TF_OperationInputType(C.TF_Input{oper: o.c, index: C.int(index)}))
}

func (o operation) OutputType(index int) engine.DataType {
	return engine.DataType(C.TF_OperationOutputType(C.TF_Output{oper: o.c, index: C.int(index)}))
}

func (o operation) InputSource(index int) engine.Output {
	out := C.TF_OperationInput(C.TF_Input{oper: o.c, index: C.int(index)})
	return engine.Output{Op: operation{c: out.oper}, Index: int(out.index)}
}

func (o operation) OutputNumConsumers(index int) int {
	return int(C.TF_OperationOutputNumConsumers(C.TF_Output{oper: o.c, index: C.int(index)}))
}

func (o operation) OutputConsumers(index int) []engine.Input {
	cout := C.TF_Output{oper: o.c, index: C.int(index)}
	n := int(C.TF_OperationOutputNumConsumers(cout))
	if n == 0 {
		return nil
	}
	cins := make([]C.TF_Input, n)
	n = int(C.TF_OperationOutputConsumers(cout, &cins[0], C.int(n)))
	out := make([]engine.Input, n)
	for i := range out {
		out[i] = engine.Input{Op: operation{c: cins[i].oper}, Index: int(cins[i].index)}
	}
	return out
}

func (o operation) ControlInputs() []engine.Operation {
	n := int(C.TF_OperationNumControlInputs(o.c))
	if n == 0 {
		return nil
	}
	cops := make([]*C.TF_Operation, n)
	n = int(C.TF_OperationGetControlInputs(o.c, &cops[0], C.int(n)))
	return wrapOperations(cops[:n])
}

func (o operation) ControlOutputs() []engine.Operation {
	n := int(C.TF_OperationNumControlOutputs(o.c))
	if n == 0 {
		return nil
	}
	cops := make([]*C.TF_Operation, n)
	n = int(C.TF_OperationGetControlOutputs(o.c, &cops[0], C.int(n)))
	return wrapOperations(cops[:n])
}

func wrapOperations(cops []*C.TF_Operation) []engine.Operation {
	out := make([]engine.Operation, len(cops))
	for i, c := range cops {
		out[i] = operation{c: c}
	}
	return out
}

func (o operation) InputListLength(argName string) (int, error) {
	cname := C.CString(argName)
	defer C.free(unsafe.Pointer(cname))
	s := newStatus()
	defer s.delete()
	n := C.TF_OperationInputListLength(o.c, cname, s.c)
	if err := s.Err(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (o operation) OutputListLength(argName string) (int, error) {
	cname := C.CString(argName)
	defer C.free(unsafe.Pointer(cname))
	s := newStatus()
	defer s.delete()
	n := C.TF_OperationOutputListLength(o.c, cname, s.c)
	if err := s.Err(); err != nil {
		return 0, err
	}
	return int(n), nil
}
