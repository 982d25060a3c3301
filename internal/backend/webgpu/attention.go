//go:build windows

package webgpu

import (
	"math"

	"github.com/born-ml/causal/internal/tensor"
)

// finish wraps kernel output as a WebGPU-tagged tensor at precision p.
func finish(data []float32, err error, shape tensor.Shape, p tensor.Precision, op string) *tensor.RawTensor {
	if err != nil {
		panic("webgpu: " + op + ": " + err.Error())
	}
	out, err := tensor.View(data, shape, p, tensor.WebGPU)
	if err != nil {
		panic("webgpu: " + op + ": " + err.Error())
	}
	return out.Round()
}

// Rotate applies rotary position encoding. Angles are evaluated on the host
// in float64, exactly as the CPU backend does.
func (b *Backend) Rotate(x *tensor.RawTensor, positions [][]int, freqs []float64) *tensor.RawTensor {
	shape := x.Shape()
	batch, seq, heads, headDim := shape[0], shape[1], shape[2], shape[3]
	half := headDim / 2

	cosT := make([]float32, batch*seq*half)
	sinT := make([]float32, batch*seq*half)
	for row := 0; row < batch*seq; row++ {
		pos := float64(positions[row/seq][row%seq])
		for i := 0; i < half; i++ {
			theta := pos * freqs[i]
			cosT[row*half+i] = float32(math.Cos(theta))
			sinT[row*half+i] = float32(math.Sin(theta))
		}
	}

	//nolint:gosec // G115: extents are small and non-negative
	data, err := b.run(kernel{
		name:        "rope",
		code:        ropeShader,
		inputs:      [][]byte{f32Bytes(x.Data()), f32Bytes(cosT), f32Bytes(sinT)},
		params:      u32Params(uint32(batch*seq), uint32(heads), uint32(headDim)),
		resultSize:  x.NumElements(),
		invocations: batch * seq * heads * half,
	})
	return finish(data, err, shape, x.Precision(), "rotate")
}

// Scores computes grouped causal attention scores.
func (b *Backend) Scores(q, k *tensor.RawTensor, mask *tensor.AttentionMask, group int, scale float32) *tensor.RawTensor {
	qs, ks := q.Shape(), k.Shape()
	batch, seqQ, nQ, headDim := qs[0], qs[1], qs[2], qs[3]
	seqK, nKV := ks[1], ks[2]
	n := batch * seqQ * nQ * seqK

	//nolint:gosec // G115: extents are small and non-negative
	data, err := b.run(kernel{
		name:   "scores",
		code:   scoresShader,
		inputs: [][]byte{f32Bytes(q.Data()), f32Bytes(k.Data()), i32Bytes(mask.QueryPos), i32Bytes(mask.KeyPos)},
		params: u32Params(uint32(batch), uint32(seqQ), uint32(nQ), uint32(seqK), uint32(nKV), uint32(headDim),
			uint32(group), uint32(mask.Window), math.Float32bits(scale), math.Float32bits(float32(math.Inf(-1)))),
		resultSize:  n,
		invocations: n,
	})
	return finish(data, err, tensor.Shape{batch, seqQ, nQ, seqK}, q.Precision(), "scores")
}

// Softmax normalizes each (batch, query, head) row over its visible keys.
func (b *Backend) Softmax(scores *tensor.RawTensor, mask *tensor.AttentionMask) *tensor.RawTensor {
	s := scores.Shape()
	batch, seqQ, nQ, seqK := s[0], s[1], s[2], s[3]

	//nolint:gosec // G115: extents are small and non-negative
	data, err := b.run(kernel{
		name:        "softmax",
		code:        softmaxShader,
		inputs:      [][]byte{f32Bytes(scores.Data()), i32Bytes(mask.QueryPos), i32Bytes(mask.KeyPos)},
		params:      u32Params(uint32(batch), uint32(seqQ), uint32(nQ), uint32(seqK), uint32(mask.Window)),
		resultSize:  scores.NumElements(),
		invocations: batch * seqQ * nQ,
	})
	return finish(data, err, s, scores.Precision(), "softmax")
}

// Aggregate computes the probability-weighted sum of value vectors.
func (b *Backend) Aggregate(probs, v *tensor.RawTensor, group int) *tensor.RawTensor {
	ps, vs := probs.Shape(), v.Shape()
	batch, seqQ, nQ, seqK := ps[0], ps[1], ps[2], ps[3]
	nKV, headDim := vs[2], vs[3]
	n := batch * seqQ * nQ * headDim

	//nolint:gosec // G115: extents are small and non-negative
	data, err := b.run(kernel{
		name:        "aggregate",
		code:        aggregateShader,
		inputs:      [][]byte{f32Bytes(probs.Data()), f32Bytes(v.Data())},
		params:      u32Params(uint32(batch), uint32(seqQ), uint32(nQ), uint32(seqK), uint32(nKV), uint32(headDim), uint32(group)),
		resultSize:  n,
		invocations: n,
	})
	return finish(data, err, tensor.Shape{batch, seqQ, nQ, headDim}, probs.Precision(), "aggregate")
}
