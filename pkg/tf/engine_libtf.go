//go:build libtensorflow

package tf

import (
	"k8s.io/examples/AI/tfgraph/pkg/engine"
	"k8s.io/examples/AI/tfgraph/pkg/engine/libtf"
)

// DefaultEngine returns the engine used when none is given explicitly.
func DefaultEngine() engine.Engine {
	return defaultEngine
}

var defaultEngine engine.Engine = libtf.New()
