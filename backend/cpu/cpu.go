// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go attention backend.
package cpu

import (
	internalcpu "github.com/born-ml/causal/internal/backend/cpu"
	"github.com/born-ml/causal/internal/parallel"
	"github.com/born-ml/causal/tensor"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a sequential CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	attn, err := nn.NewAttention(cfg, backend)
func New() *Backend {
	return internalcpu.New()
}

// NewParallel creates a CPU backend that fans rows out over numWorkers
// goroutines (0 = NumCPU). Results are bit-identical to New.
func NewParallel(numWorkers int) *Backend {
	cfg := parallel.DefaultConfig()
	cfg.Enabled = true
	if numWorkers > 0 {
		cfg.NumWorkers = numWorkers
	}
	return internalcpu.New(internalcpu.WithParallel(cfg))
}
