// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend opens a compute backend by name.
//
// Names: "cpu", "parallel" and "webgpu". WebGPU is available on windows;
// elsewhere, or without an adapter, it falls back to the CPU backend.
package backend

import (
	"github.com/born-ml/causal/internal/backend"
	"github.com/born-ml/causal/tensor"
)

// ErrUnknownBackend reports an unrecognized backend name.
var ErrUnknownBackend = backend.ErrUnknownBackend

// Open returns the backend called name and a release function that is
// never nil.
func Open(name string, numWorkers int) (tensor.Backend, func(), error) {
	return backend.Open(name, numWorkers)
}
