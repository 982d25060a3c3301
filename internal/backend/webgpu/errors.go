// Package webgpu runs the attention kernels as WGSL compute shaders through
// go-webgpu (github.com/go-webgpu/webgpu), a zero-CGO WebGPU binding.
//
// The backend is built on windows only. Elsewhere New returns ErrUnavailable
// and callers fall back to the CPU backend.
package webgpu

import (
	"github.com/pkg/errors"
)

// ErrUnavailable reports that no WebGPU adapter could be opened.
var ErrUnavailable = errors.New("webgpu: unavailable")
