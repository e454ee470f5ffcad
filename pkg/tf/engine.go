//go:build !libtensorflow

package tf

import (
	"k8s.io/examples/AI/tfgraph/pkg/engine"
	"k8s.io/examples/AI/tfgraph/pkg/engine/fallback"
)

// DefaultEngine returns the engine used when none is given explicitly. Build
// with the libtensorflow tag to use the native library.
func DefaultEngine() engine.Engine {
	return defaultEngine
}

var defaultEngine engine.Engine = fallback.New()
