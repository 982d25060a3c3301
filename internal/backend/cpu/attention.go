package cpu

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/causal/internal/parallel"
	"github.com/born-ml/causal/internal/tensor"
)

var negInf = float32(math.Inf(-1))

func vec(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}

// Scores computes grouped causal attention scores.
//
// q: [batch, seqQ, nQ, d], k: [batch, seqK, nKV, d] -> [batch, seqQ, nQ, seqK].
// Query head h reads key head h/group. Invisible pairs are -Inf.
func (cpu *CPUBackend) Scores(q, k *tensor.RawTensor, mask *tensor.AttentionMask, group int, scale float32) *tensor.RawTensor {
	qs, ks := q.Shape(), k.Shape()
	batch, seqQ, nQ, headDim := qs[0], qs[1], qs[2], qs[3]
	seqK, nKV := ks[1], ks[2]

	out := cpu.newResult(tensor.Shape{batch, seqQ, nQ, seqK}, q.Precision(), "scores")
	qd, kd, dst := q.Data(), k.Data(), out.Data()

	parallel.ForBatch(batch, nQ, func(b, h int) {
		kvHead := h / group
		for i := 0; i < seqQ; i++ {
			qOff := ((b*seqQ+i)*nQ + h) * headDim
			qv := vec(qd[qOff : qOff+headDim])
			row := dst[((b*seqQ+i)*nQ+h)*seqK:][:seqK]
			for j := 0; j < seqK; j++ {
				if !mask.Visible(b, i, j) {
					row[j] = negInf
					continue
				}
				kOff := ((b*seqK+j)*nKV + kvHead) * headDim
				row[j] = blas32.Dot(qv, vec(kd[kOff:kOff+headDim])) * scale
			}
		}
	}, cpu.parallel)

	return out.Round()
}

// Softmax normalizes each (batch, query, head) row over its visible keys.
// The max is subtracted before exponentiating. Invisible entries are zero and
// a row without visible keys stays all-zero.
func (cpu *CPUBackend) Softmax(scores *tensor.RawTensor, mask *tensor.AttentionMask) *tensor.RawTensor {
	s := scores.Shape()
	batch, seqQ, nQ, seqK := s[0], s[1], s[2], s[3]

	out := cpu.newResult(s, scores.Precision(), "softmax")
	src, dst := scores.Data(), out.Data()

	parallel.ForBatch(batch, nQ, func(b, h int) {
		for i := 0; i < seqQ; i++ {
			off := ((b*seqQ+i)*nQ + h) * seqK
			in, row := src[off:off+seqK], dst[off:off+seqK]

			maxVal, found := negInf, false
			for j := 0; j < seqK; j++ {
				if mask.Visible(b, i, j) && (!found || in[j] > maxVal) {
					maxVal, found = in[j], true
				}
			}
			if !found {
				continue // all-zero row
			}

			var sum float32
			for j := 0; j < seqK; j++ {
				if mask.Visible(b, i, j) {
					row[j] = float32(math.Exp(float64(in[j] - maxVal)))
					sum += row[j]
				}
			}
			inv := 1 / sum
			for j := 0; j < seqK; j++ {
				row[j] *= inv
			}
		}
	}, cpu.parallel)

	return out.Round()
}

// Aggregate computes out[b,i,h,:] = sum_j probs[b,i,h,j] * v[b,j,h/group,:].
// Zero-probability slots are skipped so unwritten cache content never leaks.
func (cpu *CPUBackend) Aggregate(probs, v *tensor.RawTensor, group int) *tensor.RawTensor {
	ps, vs := probs.Shape(), v.Shape()
	batch, seqQ, nQ, seqK := ps[0], ps[1], ps[2], ps[3]
	nKV, headDim := vs[2], vs[3]

	out := cpu.newResult(tensor.Shape{batch, seqQ, nQ, headDim}, probs.Precision(), "aggregate")
	pd, vd, dst := probs.Data(), v.Data(), out.Data()

	parallel.ForBatch(batch, nQ, func(b, h int) {
		kvHead := h / group
		for i := 0; i < seqQ; i++ {
			weights := pd[((b*seqQ+i)*nQ+h)*seqK:][:seqK]
			oOff := ((b*seqQ+i)*nQ + h) * headDim
			acc := vec(dst[oOff : oOff+headDim])
			for j, w := range weights {
				if w == 0 {
					continue
				}
				vOff := ((b*seqK+j)*nKV + kvHead) * headDim
				blas32.Axpy(w, vec(vd[vOff:vOff+headDim]), acc)
			}
		}
	}, cpu.parallel)

	return out.Round()
}
