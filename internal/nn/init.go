package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/causal/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Values are drawn from U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
// using rng, so a seeded rng always yields the same weights.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand) *tensor.RawTensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.Zeros(shape, tensor.Float32)
	data := t.Data()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape tensor.Shape) *tensor.RawTensor {
	t := tensor.Zeros(shape, tensor.Float32)
	data := t.Data()
	for i := range data {
		data[i] = 1
	}
	return t
}
