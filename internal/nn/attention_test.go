package nn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/causal/internal/backend/cpu"
	"github.com/born-ml/causal/internal/parallel"
	"github.com/born-ml/causal/internal/tensor"
)

func TestAttention_ForwardShape(t *testing.T) {
	attn := newTestAttention(t, AttentionConfig{NbHeadsQuery: 4, NbHeadsKey: 2, HeadDim: 8})

	q := randn(1, tensor.Shape{2, 5, 4, 8}, tensor.Float32)
	k := randn(2, tensor.Shape{2, 5, 2, 8}, tensor.Float32)
	v := randn(3, tensor.Shape{2, 5, 2, 8}, tensor.Float32)

	out, err := attn.Forward(q, k, v, tensor.Positions(2, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 5, 4, 8}, out.Shape())

	// The first position only sees itself: the output is its own value head.
	for h := 0; h < 4; h++ {
		assert.InDeltaSlice(t, v.Row(0, 0, h/2), out.Row(0, 0, h), 1e-6)
	}
}

func TestAttention_CachedKeysMatchFull(t *testing.T) {
	attn := newTestAttention(t, AttentionConfig{NbHeadsQuery: 2, NbHeadsKey: 1, HeadDim: 4})
	const seq, capacity = 5, 8

	q := randn(1, tensor.Shape{1, seq, 2, 4}, tensor.Float32)
	k := randn(2, tensor.Shape{1, seq, 1, 4}, tensor.Float32)
	v := randn(3, tensor.Shape{1, seq, 1, 4}, tensor.Float32)
	positions := tensor.Positions(1, 1, seq)

	full, err := attn.Forward(q, k, v, positions)
	require.NoError(t, err)

	cache, err := NewKVCache(KVCacheConfig{Layers: 1, Batch: 1, NbHeadsKey: 1, HeadDim: 4, Capacity: capacity})
	require.NoError(t, err)
	for p := 0; p < seq; p++ {
		qr, kr, err := attn.Rotate(sliceSeq(t, q, p, p+1), sliceSeq(t, k, p, p+1), tensor.Positions(1, p+1, 1))
		require.NoError(t, err)
		require.NoError(t, cache.Append(0, 0, p+1, kr.Row(0, 0), v.Row(0, p)))

		keys, values, keyPos, err := cache.Batched(0)
		require.NoError(t, err)
		out, _, err := attn.Attend(qr, keys, values, &tensor.AttentionMask{QueryPos: [][]int{{p + 1}}, KeyPos: keyPos})
		require.NoError(t, err)
		assert.Equal(t, full.Row(0, p), out.Row(0, 0), "position %d", p)
	}
}

func TestAttention_BatchIndependence(t *testing.T) {
	attn := newTestAttention(t, AttentionConfig{NbHeadsQuery: 4, NbHeadsKey: 2, HeadDim: 8})

	q := randn(1, tensor.Shape{3, 4, 4, 8}, tensor.Float32)
	k := randn(2, tensor.Shape{3, 4, 2, 8}, tensor.Float32)
	v := randn(3, tensor.Shape{3, 4, 2, 8}, tensor.Float32)
	positions := tensor.Positions(3, 1, 4)

	batched, err := attn.Forward(q, k, v, positions)
	require.NoError(t, err)

	for b := 0; b < 3; b++ {
		alone, err := attn.Forward(sliceBatch(t, q, b), sliceBatch(t, k, b), sliceBatch(t, v, b), tensor.Positions(1, 1, 4))
		require.NoError(t, err)
		assert.Equal(t, alone.Data(), batched.Row(b), "element %d", b)
	}
}

func TestAttention_Window(t *testing.T) {
	attn := newTestAttention(t, AttentionConfig{NbHeadsQuery: 1, NbHeadsKey: 1, HeadDim: 4, Window: 2})

	q := randn(1, tensor.Shape{1, 4, 1, 4}, tensor.Float32)
	k := randn(2, tensor.Shape{1, 4, 1, 4}, tensor.Float32)
	v := randn(3, tensor.Shape{1, 4, 1, 4}, tensor.Float32)
	positions := tensor.Positions(1, 1, 4)

	qr, kr, err := attn.Rotate(q, k, positions)
	require.NoError(t, err)
	_, probs, err := attn.Attend(qr, kr, v, CausalMask(positions, 2))
	require.NoError(t, err)

	assert.Zero(t, probs.At(0, 3, 0, 0))
	assert.Zero(t, probs.At(0, 3, 0, 1))
	assert.InDelta(t, 1.0, probs.At(0, 3, 0, 2)+probs.At(0, 3, 0, 3), 1e-6)
}

func TestAttention_Float16Tolerance(t *testing.T) {
	attn := newTestAttention(t, AttentionConfig{NbHeadsQuery: 4, NbHeadsKey: 1, HeadDim: 16})

	q := randn(1, tensor.Shape{2, 6, 4, 16}, tensor.Float32)
	k := randn(2, tensor.Shape{2, 6, 1, 16}, tensor.Float32)
	v := randn(3, tensor.Shape{2, 6, 1, 16}, tensor.Float32)
	positions := tensor.Positions(2, 1, 6)

	want, err := attn.Forward(q, k, v, positions)
	require.NoError(t, err)
	got, err := attn.Forward(q.WithPrecision(tensor.Float16), k.WithPrecision(tensor.Float16), v.WithPrecision(tensor.Float16), positions)
	require.NoError(t, err)

	if diff := cmp.Diff(want.Data(), got.Data(), cmpopts.EquateApprox(0, 5e-2)); diff != "" {
		t.Errorf("float16 attention drifted from float32 (-want +got):\n%s", diff)
	}
}

func TestAttention_ParallelMatchesSequential(t *testing.T) {
	cfg := AttentionConfig{NbHeadsQuery: 4, NbHeadsKey: 2, HeadDim: 8}
	seqAttn, err := NewAttention(cfg, cpu.New())
	require.NoError(t, err)
	parAttn, err := NewAttention(cfg, cpu.New(cpu.WithParallel(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1})))
	require.NoError(t, err)

	q := randn(1, tensor.Shape{3, 7, 4, 8}, tensor.Float32)
	k := randn(2, tensor.Shape{3, 7, 2, 8}, tensor.Float32)
	v := randn(3, tensor.Shape{3, 7, 2, 8}, tensor.Float32)
	positions := tensor.Positions(3, 1, 7)

	want, err := seqAttn.Forward(q, k, v, positions)
	require.NoError(t, err)
	got, err := parAttn.Forward(q, k, v, positions)
	require.NoError(t, err)
	if diff := cmp.Diff(want.Data(), got.Data()); diff != "" {
		t.Errorf("parallel output differs (-want +got):\n%s", diff)
	}
}

func TestAttention_Errors(t *testing.T) {
	_, err := NewAttention(AttentionConfig{NbHeadsQuery: 3, NbHeadsKey: 2, HeadDim: 8}, cpu.New())
	assert.True(t, errors.Is(err, ErrHeadGroupMismatch))

	_, err = NewAttention(AttentionConfig{NbHeadsQuery: 2, NbHeadsKey: 2, HeadDim: 7}, cpu.New())
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	attn := newTestAttention(t, AttentionConfig{NbHeadsQuery: 2, NbHeadsKey: 1, HeadDim: 4})
	q := randn(1, tensor.Shape{1, 3, 2, 4}, tensor.Float32)
	k := randn(2, tensor.Shape{1, 3, 1, 4}, tensor.Float32)
	v := randn(3, tensor.Shape{1, 2, 1, 4}, tensor.Float32)
	_, err = attn.Forward(q, k, v, tensor.Positions(1, 1, 3))
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}
