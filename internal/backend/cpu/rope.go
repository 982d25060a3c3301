package cpu

import (
	"math"

	"github.com/born-ml/causal/internal/parallel"
	"github.com/born-ml/causal/internal/tensor"
)

// Rotate applies rotary position encoding.
//
// For pair i of a row at position p:
//
//	x'[2i]   = x[2i]*cos(p*f_i) - x[2i+1]*sin(p*f_i)
//	x'[2i+1] = x[2i]*sin(p*f_i) + x[2i+1]*cos(p*f_i)
//
// Angles are evaluated in float64 from the explicit position, so the result
// for a given (vector, position) does not depend on how many other positions
// share the call.
func (cpu *CPUBackend) Rotate(x *tensor.RawTensor, positions [][]int, freqs []float64) *tensor.RawTensor {
	shape := x.Shape()
	batch, seq, heads, headDim := shape[0], shape[1], shape[2], shape[3]
	halfDim := headDim / 2

	out := cpu.newResult(shape, x.Precision(), "rotate")
	in := x.Data()
	dst := out.Data()

	parallel.For(batch*seq, func(row int) {
		b, s := row/seq, row%seq
		cosv, sinv := angles(positions[b][s], freqs[:halfDim])
		base := row * heads * headDim
		for h := 0; h < heads; h++ {
			off := base + h*headDim
			for i := 0; i < halfDim; i++ {
				even, odd := in[off+2*i], in[off+2*i+1]
				dst[off+2*i] = even*cosv[i] - odd*sinv[i]
				dst[off+2*i+1] = even*sinv[i] + odd*cosv[i]
			}
		}
	}, cpu.parallel)

	return out.Round()
}

func angles(pos int, freqs []float64) (cosv, sinv []float32) {
	cosv = make([]float32, len(freqs))
	sinv = make([]float32, len(freqs))
	for i, f := range freqs {
		theta := float64(pos) * f
		cosv[i] = float32(math.Cos(theta))
		sinv[i] = float32(math.Sin(theta))
	}
	return cosv, sinv
}
