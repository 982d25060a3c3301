// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor types of the causal attention
// engine.
//
// Tensors are dense row-major float32 buffers tagged with a Precision.
// Float16 tensors keep float32 storage but every value lies on the binary16
// grid. Attention tensors use the layout [batch, positions, heads, headDim].
//
// Example:
//
//	rng := rand.New(rand.NewSource(1))
//	q := tensor.Randn(tensor.Shape{1, 4, 8, 16}, tensor.Float32, rng)
//	positions := tensor.Positions(1, 1, 4)
package tensor

import (
	"math/rand"

	"github.com/born-ml/causal/internal/tensor"
)

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// Precision is the numeric precision of a tensor or session.
type Precision = tensor.Precision

// Supported precisions.
const (
	Float32 = tensor.Float32
	Float16 = tensor.Float16
)

// Device identifies a compute device.
type Device = tensor.Device

// Supported devices.
const (
	CPU    = tensor.CPU
	WebGPU = tensor.WebGPU
)

// RawTensor is a dense row-major tensor.
type RawTensor = tensor.RawTensor

// Backend implements the attention kernels.
type Backend = tensor.Backend

// AttentionMask describes which key slots each query may attend to.
type AttentionMask = tensor.AttentionMask

// ParsePrecision parses "f32"/"float32" or "f16"/"float16".
func ParsePrecision(s string) (Precision, error) {
	return tensor.ParsePrecision(s)
}

// Zeros returns a zero-filled tensor.
func Zeros(shape Shape, precision Precision) *RawTensor {
	return tensor.Zeros(shape, precision)
}

// FromSlice copies data into a new tensor, rounding it to precision.
func FromSlice(data []float32, shape Shape, precision Precision) (*RawTensor, error) {
	return tensor.FromSlice(data, shape, precision)
}

// Randn returns a tensor of standard normal samples drawn from rng.
func Randn(shape Shape, precision Precision, rng *rand.Rand) *RawTensor {
	return tensor.Randn(shape, precision, rng)
}

// Positions returns batch rows of the positions start, start+1, ..., start+n-1.
func Positions(batch, start, n int) [][]int {
	return tensor.Positions(batch, start, n)
}
