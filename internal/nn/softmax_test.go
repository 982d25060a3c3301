package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/causal/internal/backend/cpu"
	"github.com/born-ml/causal/internal/tensor"
)

func TestCausalSoftmax_ProbabilityMass(t *testing.T) {
	tests := []struct {
		name      string
		precision tensor.Precision
		tol       float64
	}{
		{"float32", tensor.Float32, 1e-5},
		{"float16", tensor.Float16, 1e-2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const seq = 7
			s, err := NewScorer(2, 1, 8, cpu.New())
			require.NoError(t, err)
			q := randn(1, tensor.Shape{2, seq, 2, 8}, tt.precision)
			k := randn(2, tensor.Shape{2, seq, 1, 8}, tt.precision)
			mask := CausalMask(tensor.Positions(2, 1, seq), 3)

			scores, err := s.Scores(q, k, mask)
			require.NoError(t, err)
			probs, err := NewCausalSoftmax(cpu.New()).Forward(scores, mask)
			require.NoError(t, err)
			assert.Equal(t, tt.precision, probs.Precision())

			for b := 0; b < 2; b++ {
				for i := 0; i < seq; i++ {
					for h := 0; h < 2; h++ {
						var sum float64
						for j, p := range probs.Row(b, i, h) {
							if !mask.Visible(b, i, j) {
								assert.Zero(t, p, "hidden entry (%d,%d,%d,%d)", b, i, h, j)
							}
							assert.GreaterOrEqual(t, p, float32(0))
							sum += float64(p)
						}
						assert.InDelta(t, 1.0, sum, tt.tol)
					}
				}
			}
		})
	}
}

func TestCausalSoftmax_EmptyRowsAreZero(t *testing.T) {
	scores := tensor.Zeros(tensor.Shape{1, 2, 1, 3}, tensor.Float32)
	for j := 0; j < 3; j++ {
		scores.Set(float32(math.Inf(-1)), 0, 0, 0, j)
		scores.Set(float32(j), 0, 1, 0, j)
	}
	mask := &tensor.AttentionMask{
		QueryPos: [][]int{{1, 5}},
		KeyPos:   [][]int{{-1, -1, 4}},
	}

	probs, err := NewCausalSoftmax(cpu.New()).Forward(scores, mask)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, probs.Row(0, 0, 0))
	assert.Equal(t, []float32{0, 0, 1}, probs.Row(0, 1, 0))
}

func TestCausalSoftmax_LargeScores(t *testing.T) {
	scores := tensor.Zeros(tensor.Shape{1, 1, 1, 2}, tensor.Float32)
	scores.Set(1e4, 0, 0, 0, 0)
	scores.Set(1e4, 0, 0, 0, 1)
	mask := &tensor.AttentionMask{QueryPos: [][]int{{2}}, KeyPos: [][]int{{1, 2}}}

	probs, err := NewCausalSoftmax(cpu.New()).Forward(scores, mask)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs.At(0, 0, 0, 0), 1e-7)
	assert.InDelta(t, 0.5, probs.At(0, 0, 0, 1), 1e-7)
}
