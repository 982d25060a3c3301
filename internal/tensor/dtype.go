// Package tensor provides the dense float tensors and the compute backend
// contract used by the attention engine.
package tensor

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// Precision is the numeric precision a session computes and caches in.
//
// Kernels always accumulate in float32; Float16 rounds every stored value
// (kernel outputs and cache entries) to the nearest IEEE 754 binary16 value.
type Precision int

// Supported precisions.
const (
	Float32 Precision = iota
	Float16
)

// String returns a human-readable name for the precision.
func (p Precision) String() string {
	switch p {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

// ElementSize returns the storage size in bytes of one value.
func (p Precision) ElementSize() int {
	if p == Float16 {
		return 2
	}
	return 4
}

// ParsePrecision accepts "f32", "float32", "f16", "fp16" or "float16".
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "fp32", "float32":
		return Float32, nil
	case "f16", "fp16", "half", "float16":
		return Float16, nil
	default:
		return Float32, fmt.Errorf("unknown precision %q", s)
	}
}

// Round returns v rounded to the precision's representable grid.
func (p Precision) Round(v float32) float32 {
	if p == Float16 {
		return float16.Fromfloat32(v).Float32()
	}
	return v
}

// RoundSlice rounds every element of data in place.
func (p Precision) RoundSlice(data []float32) {
	if p != Float16 {
		return
	}
	for i, v := range data {
		data[i] = float16.Fromfloat32(v).Float32()
	}
}
