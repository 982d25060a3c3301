//go:build !windows

package webgpu

import (
	"github.com/born-ml/causal/internal/tensor"
)

// Backend is a placeholder on platforms without the WebGPU binding.
type Backend struct{}

// New always returns ErrUnavailable on this platform.
func New() (*Backend, error) {
	return nil, ErrUnavailable
}

// IsAvailable reports whether a WebGPU adapter can be opened.
func IsAvailable() bool { return false }

// Release is a no-op.
func (b *Backend) Release() {}

// Name returns the backend name.
func (b *Backend) Name() string { return "WebGPU (unavailable)" }

// Device returns the compute device.
func (b *Backend) Device() tensor.Device { return tensor.WebGPU }

// Rotate is never reachable: New never returns a Backend.
func (b *Backend) Rotate(*tensor.RawTensor, [][]int, []float64) *tensor.RawTensor {
	panic(ErrUnavailable)
}

// Scores is never reachable: New never returns a Backend.
func (b *Backend) Scores(*tensor.RawTensor, *tensor.RawTensor, *tensor.AttentionMask, int, float32) *tensor.RawTensor {
	panic(ErrUnavailable)
}

// Softmax is never reachable: New never returns a Backend.
func (b *Backend) Softmax(*tensor.RawTensor, *tensor.AttentionMask) *tensor.RawTensor {
	panic(ErrUnavailable)
}

// Aggregate is never reachable: New never returns a Backend.
func (b *Backend) Aggregate(*tensor.RawTensor, *tensor.RawTensor, int) *tensor.RawTensor {
	panic(ErrUnavailable)
}

var _ tensor.Backend = (*Backend)(nil)
