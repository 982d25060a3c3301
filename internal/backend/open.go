// Package backend selects a compute backend by name.
package backend

import (
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/causal/internal/backend/cpu"
	"github.com/born-ml/causal/internal/backend/webgpu"
	"github.com/born-ml/causal/internal/parallel"
	"github.com/born-ml/causal/internal/tensor"
)

// ErrUnknownBackend reports an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown backend")

// Names lists the accepted backend names.
var Names = []string{"cpu", "parallel", "webgpu"}

// Open returns the backend called name. "parallel" uses numWorkers
// goroutines (0 = NumCPU). "webgpu" falls back to the CPU backend with a
// warning when no adapter can be opened.
//
// The returned release function frees device resources and is never nil.
func Open(name string, numWorkers int) (tensor.Backend, func(), error) {
	switch strings.ToLower(name) {
	case "", "cpu":
		return cpu.New(), func() {}, nil
	case "parallel":
		cfg := parallel.DefaultConfig()
		cfg.Enabled = true
		if numWorkers > 0 {
			cfg.NumWorkers = numWorkers
		}
		return cpu.New(cpu.WithParallel(cfg)), func() {}, nil
	case "webgpu":
		gpu, err := webgpu.New()
		if err != nil {
			klog.Warningf("webgpu backend unavailable, falling back to CPU: %v", err)
			return cpu.New(), func() {}, nil
		}
		return gpu, gpu.Release, nil
	default:
		return nil, nil, errors.Wrapf(ErrUnknownBackend, "%q (want one of %s)", name, strings.Join(Names, ", "))
	}
}
