// Package cpu implements the attention kernels in pure Go.
//
// Dot products and axpy updates go through gonum's blas32. Rows of the
// batch x heads grid are independent: the sequential backend walks them in
// order, the parallel backend hands them to worker goroutines. Each row is
// produced by a single worker with the same code path, so both modes return
// bit-identical results.
package cpu

import (
	"fmt"

	"github.com/born-ml/causal/internal/parallel"
	"github.com/born-ml/causal/internal/tensor"
)

// CPUBackend implements tensor.Backend on the CPU.
type CPUBackend struct {
	device   tensor.Device
	parallel parallel.Config
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithParallel fans rows out over goroutines according to cfg.
func WithParallel(cfg parallel.Config) Option {
	return func(c *CPUBackend) {
		c.parallel = cfg
	}
}

// New creates a new CPU backend. Without options it runs sequentially.
func New(opts ...Option) *CPUBackend {
	c := &CPUBackend{
		device:   tensor.CPU,
		parallel: parallel.Sequential(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewParallel creates a CPU backend using all available cores.
func NewParallel() *CPUBackend {
	return New(WithParallel(parallel.DefaultConfig()))
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	if cpu.parallel.Enabled {
		return fmt.Sprintf("CPU(parallel x%d)", cpu.parallel.NumWorkers)
	}
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Parallel reports the fan-out configuration.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.parallel
}

func (cpu *CPUBackend) newResult(shape tensor.Shape, p tensor.Precision, op string) *tensor.RawTensor {
	out, err := tensor.NewRaw(shape, p, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return out
}

// Compile-time check that CPUBackend implements tensor.Backend.
var _ tensor.Backend = (*CPUBackend)(nil)
