package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	t := tensor.Zeros(tensor.Shape{2, 5, 4, 16}, tensor.Float32)
func Zeros(shape Shape, precision Precision) *RawTensor {
	t, err := NewRaw(shape, precision, CPU)
	if err != nil {
		panic(fmt.Sprintf("tensor.Zeros: %v", err))
	}
	return t
}

// FromSlice creates a tensor from existing data. The slice is copied and
// rounded to the requested precision.
func FromSlice(data []float32, shape Shape, precision Precision) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	t, err := NewRaw(shape, precision, CPU)
	if err != nil {
		return nil, err
	}
	copy(t.data, data)
	return t.Round(), nil
}

// Randn creates a tensor with values sampled from the standard normal
// distribution using rng, so that tests and seeded models are reproducible.
//
// Example:
//
//	rng := rand.New(rand.NewSource(42))
//	q := tensor.Randn(tensor.Shape{1, 5, 4, 8}, tensor.Float32, rng)
func Randn(shape Shape, precision Precision, rng *rand.Rand) *RawTensor {
	t := Zeros(shape, precision)
	data := t.data

	// Box-Muller transform
	for i := 0; i < len(data); i += 2 {
		u1 := 1 - rng.Float64()
		u2 := rng.Float64()
		z0 := math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
		z1 := math.Sqrt(-2.0*math.Log(u1)) * math.Sin(2.0*math.Pi*u2)
		data[i] = float32(z0)
		if i+1 < len(data) {
			data[i+1] = float32(z1)
		}
	}
	return t.Round()
}

// Positions returns the [batch][n] table of absolute positions start..start+n-1
// for every batch element.
func Positions(batch, start, n int) [][]int {
	out := make([][]int, batch)
	for b := range out {
		row := make([]int, n)
		for i := range row {
			row[i] = start + i
		}
		out[b] = row
	}
	return out
}
