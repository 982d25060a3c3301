package nn

import (
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/causal/internal/backend/cpu"
	"github.com/born-ml/causal/internal/tensor"
)

// randn returns a seeded standard normal tensor.
func randn(seed int64, shape tensor.Shape, precision tensor.Precision) *tensor.RawTensor {
	return tensor.Randn(shape, precision, rand.New(rand.NewSource(seed)))
}

// sliceSeq copies positions [from, to) of a [batch, seq, ...] tensor.
func sliceSeq(t *testing.T, x *tensor.RawTensor, from, to int) *tensor.RawTensor {
	t.Helper()
	shape := x.Shape()
	outShape := shape.Clone()
	outShape[1] = to - from
	out := tensor.Zeros(outShape, x.Precision())
	for b := 0; b < shape[0]; b++ {
		for s := from; s < to; s++ {
			copy(out.Row(b, s-from), x.Row(b, s))
		}
	}
	return out
}

// sliceBatch copies batch element b of x as a batch of one.
func sliceBatch(t *testing.T, x *tensor.RawTensor, b int) *tensor.RawTensor {
	t.Helper()
	shape := x.Shape().Clone()
	shape[0] = 1
	return must.M1(tensor.FromSlice(x.Row(b), shape, x.Precision()))
}

func newTestAttention(t *testing.T, cfg AttentionConfig) *Attention {
	t.Helper()
	attn, err := NewAttention(cfg, cpu.New())
	require.NoError(t, err)
	return attn
}
