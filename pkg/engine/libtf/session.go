//go:build libtensorflow

package libtf

// #include <stdlib.h>
// #include "tensorflow/c/c_api.h"
import "C"

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

type session struct {
	c     *C.TF_Session
	graph *graph
}

var _ engine.Session = (*session)(nil)

func (s *session) Run(feeds []engine.Output, feedValues []engine.Tensor, fetches []engine.Output, targets []engine.Operation) ([]engine.Tensor, error) {
	if len(feeds) != len(feedValues) {
		return nil, status.Errorf(codes.InvalidArgument, "%d feeds but %d feed values", len(feeds), len(feedValues))
	}

	cfeeds := make([]C.TF_Output, len(feeds))
	cvalues := make([]*C.TF_Tensor, len(feeds))
	for i := range feeds {
		out, err := toOutput(feeds[i])
		if err != nil {
			return nil, err
		}
		t, err := asTensor(feedValues[i])
		if err != nil {
			return nil, err
		}
		cfeeds[i] = out
		cvalues[i] = t.c
	}
	cfetches := make([]C.TF_Output, len(fetches))
	for i := range fetches {
		out, err := toOutput(fetches[i])
		if err != nil {
			return nil, err
		}
		cfetches[i] = out
	}
	ctargets := make([]*C.TF_Operation, len(targets))
	for i, op := range targets {
		o, ok := op.(operation)
		if !ok || o.c == nil {
			return nil, status.Errorf(codes.InvalidArgument, "target %T does not belong to libtensorflow", op)
		}
		ctargets[i] = o.c
	}
	cresults := make([]*C.TF_Tensor, len(fetches))

	var (
		feedsPtr   *C.TF_Output
		valuesPtr  **C.TF_Tensor
		fetchesPtr *C.TF_Output
		resultsPtr **C.TF_Tensor
		targetsPtr **C.TF_Operation
	)
	if len(cfeeds) > 0 {
		feedsPtr, valuesPtr = &cfeeds[0], &cvalues[0]
	}
	if len(cfetches) > 0 {
		fetchesPtr, resultsPtr = &cfetches[0], &cresults[0]
	}
	if len(ctargets) > 0 {
		targetsPtr = &ctargets[0]
	}

	st := newStatus()
	defer st.delete()
	C.TF_SessionRun(s.c, nil,
		feedsPtr, valuesPtr, C.int(len(cfeeds)),
		fetchesPtr, resultsPtr, C.int(len(cfetches)),
		targetsPtr, C.int(len(ctargets)),
		nil, st.c)
	if err := st.Err(); err != nil {
		for _, r := range cresults {
			if r != nil {
				C.TF_DeleteTensor(r)
			}
		}
		return nil, err
	}

	results := make([]engine.Tensor, len(cresults))
	for i, r := range cresults {
		results[i] = &tensor{c: r}
	}
	return results, nil
}

func (s *session) ListDevices() ([]engine.Device, error) {
	st := newStatus()
	defer st.delete()
	list := C.TF_SessionListDevices(s.c, st.c)
	if err := st.Err(); err != nil {
		return nil, err
	}
	defer C.TF_DeleteDeviceList(list)

	count := int(C.TF_DeviceListCount(list))
	devices := make([]engine.Device, 0, count)
	for i := range count {
		name := C.TF_DeviceListName(list, C.int(i), st.c)
		if err := st.Err(); err != nil {
			return nil, err
		}
		deviceType := C.TF_DeviceListType(list, C.int(i), st.c)
		if err := st.Err(); err != nil {
			return nil, err
		}
		memory := C.TF_DeviceListMemoryBytes(list, C.int(i), st.c)
		if err := st.Err(); err != nil {
			return nil, err
		}
		devices = append(devices, engine.Device{
			Name:             C.GoString(name),
			Type:             C.GoString(deviceType),
			MemoryLimitBytes: int64(memory),
		})
	}
	return devices, nil
}

func (s *session) Close() error {
	st := newStatus()
	defer st.delete()
	C.TF_CloseSession(s.c, st.c)
	return st.Err()
}

func (s *session) Delete() error {
	if s.c == nil {
		return nil
	}
	st := newStatus()
	defer st.delete()
	C.TF_DeleteSession(s.c, st.c)
	s.c = nil
	return st.Err()
}
