package nn

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/causal/internal/backend/cpu"
	"github.com/born-ml/causal/internal/tensor"
)

func TestNewScorer_HeadGroups(t *testing.T) {
	backend := cpu.New()

	_, err := NewScorer(6, 4, 8, backend)
	assert.True(t, errors.Is(err, ErrHeadGroupMismatch))
	_, err = NewScorer(4, 0, 8, backend)
	assert.True(t, errors.Is(err, ErrHeadGroupMismatch))
	_, err = NewAggregator(3, 2, 8, backend)
	assert.True(t, errors.Is(err, ErrHeadGroupMismatch))
	_, err = NewScorer(4, 2, 0, backend)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	_, err = NewAggregator(4, 2, 0, backend)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	_, err = NewAggregator(4, 2, -8, backend)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	s, err := NewScorer(4, 2, 8, backend)
	require.NoError(t, err)
	assert.Equal(t, 2, s.GroupSize())
	assert.Equal(t, []int{0, 0, 1, 1}, []int{s.GroupOf(0), s.GroupOf(1), s.GroupOf(2), s.GroupOf(3)})
	assert.InDelta(t, 1/math.Sqrt(8), float64(s.Scale()), 1e-7)
}

func TestScorer_GroupedMapping(t *testing.T) {
	backend := cpu.New()
	s, err := NewScorer(4, 2, 4, backend)
	require.NoError(t, err)

	// Query heads are identical; key head 1 is twice key head 0.
	q := tensor.Zeros(tensor.Shape{1, 1, 4, 4}, tensor.Float32)
	for h := 0; h < 4; h++ {
		for d := 0; d < 4; d++ {
			q.Set(1, 0, 0, h, d)
		}
	}
	k := tensor.Zeros(tensor.Shape{1, 1, 2, 4}, tensor.Float32)
	for d := 0; d < 4; d++ {
		k.Set(1, 0, 0, 0, d)
		k.Set(2, 0, 0, 1, d)
	}

	scores, err := s.Scores(q, k, CausalMask([][]int{{1}}, 0))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, scores.At(0, 0, 0, 0), 1e-6)
	assert.InDelta(t, 2.0, scores.At(0, 0, 1, 0), 1e-6)
	assert.InDelta(t, 4.0, scores.At(0, 0, 2, 0), 1e-6)
	assert.InDelta(t, 4.0, scores.At(0, 0, 3, 0), 1e-6)
}

func TestScorer_SwappedMappingChangesOutput(t *testing.T) {
	attn := newTestAttention(t, AttentionConfig{NbHeadsQuery: 4, NbHeadsKey: 2, HeadDim: 8})

	q := randn(10, tensor.Shape{1, 3, 4, 8}, tensor.Float32)
	k := randn(11, tensor.Shape{1, 3, 2, 8}, tensor.Float32)
	v := randn(12, tensor.Shape{1, 3, 2, 8}, tensor.Float32)
	positions := tensor.Positions(1, 1, 3)

	out, err := attn.Forward(q, k, v, positions)
	require.NoError(t, err)

	// Reading KV head (1 - h/group) instead of h/group is the wrong mapping.
	swap := func(x *tensor.RawTensor) *tensor.RawTensor {
		y := x.Clone()
		for s := 0; s < 3; s++ {
			copy(y.Row(0, s, 0), x.Row(0, s, 1))
			copy(y.Row(0, s, 1), x.Row(0, s, 0))
		}
		return y
	}
	swapped, err := attn.Forward(q, swap(k), swap(v), positions)
	require.NoError(t, err)
	assert.NotEqual(t, out.Data(), swapped.Data())

	// Every query head in one group must see the same keys: with identical
	// query heads inside a group the outputs match head for head.
	qShared := q.Clone()
	for s := 0; s < 3; s++ {
		copy(qShared.Row(0, s, 1), qShared.Row(0, s, 0))
		copy(qShared.Row(0, s, 3), qShared.Row(0, s, 2))
	}
	shared, err := attn.Forward(qShared, k, v, positions)
	require.NoError(t, err)
	for s := 0; s < 3; s++ {
		assert.Equal(t, shared.Row(0, s, 0), shared.Row(0, s, 1))
		assert.Equal(t, shared.Row(0, s, 2), shared.Row(0, s, 3))
		assert.NotEqual(t, shared.Row(0, s, 0), shared.Row(0, s, 2))
	}
}

func TestScorer_InvisibleIsNegInf(t *testing.T) {
	s, err := NewScorer(1, 1, 4, cpu.New())
	require.NoError(t, err)

	q := randn(1, tensor.Shape{1, 3, 1, 4}, tensor.Float32)
	k := randn(2, tensor.Shape{1, 3, 1, 4}, tensor.Float32)
	scores, err := s.Scores(q, k, CausalMask(tensor.Positions(1, 1, 3), 0))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if j > i {
				assert.True(t, math.IsInf(float64(scores.At(0, i, 0, j)), -1), "(%d,%d)", i, j)
			} else {
				assert.False(t, math.IsInf(float64(scores.At(0, i, 0, j)), 0), "(%d,%d)", i, j)
			}
		}
	}
}

func TestScorer_ShapeErrors(t *testing.T) {
	s, err := NewScorer(2, 1, 4, cpu.New())
	require.NoError(t, err)
	mask := CausalMask(tensor.Positions(1, 1, 2), 0)

	_, err = s.Scores(randn(1, tensor.Shape{1, 2, 2, 6}, tensor.Float32), randn(2, tensor.Shape{1, 2, 1, 6}, tensor.Float32), mask)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = s.Scores(randn(1, tensor.Shape{1, 2, 2, 4}, tensor.Float32), randn(2, tensor.Shape{1, 2, 1, 4}, tensor.Float16), mask)
	assert.True(t, errors.Is(err, ErrPrecisionMismatch))

	_, err = s.Scores(randn(1, tensor.Shape{1, 2, 2, 4}, tensor.Float32), randn(2, tensor.Shape{1, 2, 1, 4}, tensor.Float32),
		CausalMask(tensor.Positions(2, 1, 2), 0))
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}
