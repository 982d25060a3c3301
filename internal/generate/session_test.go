package generate

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/causal/internal/backend/cpu"
	"github.com/born-ml/causal/internal/model"
	"github.com/born-ml/causal/internal/nn"
	"github.com/born-ml/causal/internal/parallel"
	"github.com/born-ml/causal/internal/tensor"
)

func newTestModel(t *testing.T, backend tensor.Backend) *model.Model {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.DModel = 32
	cfg.HeadDim = 8
	cfg.Hidden = 48
	return must.M1(model.New(cfg, backend))
}

func newTestSession(t *testing.T, m *model.Model, cfg SessionConfig) *Session {
	t.Helper()
	s, err := NewSession(m, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func column(tokens [][]int32, i int) []int32 {
	out := make([]int32, len(tokens))
	for b, row := range tokens {
		out[b] = row[i]
	}
	return out
}

func prefix(tokens [][]int32, n int) [][]int32 {
	out := make([][]int32, len(tokens))
	for b, row := range tokens {
		out[b] = row[:n]
	}
	return out
}

var prompts = [][]int32{
	{72, 101, 108, 108, 111, 32, 119, 111, 114, 108},
	{84, 104, 101, 32, 99, 97, 116, 32, 115, 97},
}

func TestSession_FullMatchesIncremental(t *testing.T) {
	const total, primed = 5, 2
	m := newTestModel(t, cpu.New())
	tokens := prefix(prompts, total)

	for _, sliding := range []bool{false, true} {
		t.Run(map[bool]string{false: "fixed", true: "sliding"}[sliding], func(t *testing.T) {
			opts := model.ForwardOptions{}
			if sliding {
				opts.Window = 8
			}
			full, err := m.Forward(tokens, tensor.Positions(2, 1, total), opts)
			require.NoError(t, err)

			s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8, Sliding: sliding})
			logits, err := s.Prime(prefix(tokens, primed))
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{2, primed, 256}, logits.Shape())
			for b := 0; b < 2; b++ {
				for p := 0; p < primed; p++ {
					assert.Equal(t, full.Row(b, p), logits.Row(b, p), "primed element %d position %d", b, p)
				}
			}

			require.NoError(t, s.SetSequenceLength(1))
			for p := primed; p < total; p++ {
				logits, err := s.Step(column(tokens, p))
				require.NoError(t, err)
				assert.Equal(t, tensor.Shape{2, 1, 256}, logits.Shape())
				for b := 0; b < 2; b++ {
					assert.Equal(t, full.Row(b, p), logits.Row(b, 0), "step element %d position %d", b, p)
				}
			}
			assert.Equal(t, total, s.Seq(0))
			assert.Equal(t, total, s.Seq(1))
		})
	}
}

func TestSession_ExtendMatchesSteps(t *testing.T) {
	m := newTestModel(t, cpu.New())

	stepped := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 10})
	_, err := stepped.Prime(prefix(prompts, 2))
	require.NoError(t, err)
	require.NoError(t, stepped.SetSequenceLength(1))
	var last *tensor.RawTensor
	for p := 2; p < 6; p++ {
		last, err = stepped.Step(column(prompts, p))
		require.NoError(t, err)
	}

	extended := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 10})
	_, err = extended.Prime(prefix(prompts, 2))
	require.NoError(t, err)
	require.NoError(t, extended.SetSequenceLength(4))
	chunk := [][]int32{prompts[0][2:6], prompts[1][2:6]}
	logits, err := extended.Extend(chunk)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 4, 256}, logits.Shape())
	for b := 0; b < 2; b++ {
		assert.Equal(t, last.Row(b, 0), logits.Row(b, 3))
	}
}

func TestSession_SlidingEviction(t *testing.T) {
	const capacity, total = 5, 10
	m := newTestModel(t, cpu.New())
	tokens := prompts[:1]

	s := newTestSession(t, m, SessionConfig{Batch: 1, Capacity: capacity, Sliding: true})
	_, err := s.Prime(prefix(tokens, 1))
	require.NoError(t, err)
	require.NoError(t, s.SetSequenceLength(1))

	full, err := m.Forward(tokens, tensor.Positions(1, 1, total), model.ForwardOptions{Window: capacity})
	require.NoError(t, err)

	for p := 1; p < total; p++ {
		logits, err := s.Step(column(tokens, p))
		require.NoError(t, err)
		assert.Equal(t, min(p+1, capacity), s.Cache().Resident(0))
		if diff := cmp.Diff(full.Row(0, p), logits.Row(0, 0), cmpopts.EquateApprox(1e-4, 1e-4)); diff != "" {
			t.Errorf("position %d differs from windowed full path (-full +step):\n%s", p, diff)
		}
	}

	assert.Equal(t, total, s.Seq(0))
	for l := 0; l < m.NumLayers(); l++ {
		view, err := s.Cache().Window(l, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{5, 6, 7, 8, 9}, view.Positions, "layer %d", l)
		assert.Equal(t, 0, s.Cache().Age(l, 0, 9%capacity))
		assert.Equal(t, capacity-1, s.Cache().Age(l, 0, 5%capacity))
	}
}

func TestSession_CapacityExceeded(t *testing.T) {
	m := newTestModel(t, cpu.New())
	tokens := prompts[:1]

	s := newTestSession(t, m, SessionConfig{Batch: 1, Capacity: 5})
	_, err := s.Prime(prefix(tokens, 6))
	assert.True(t, errors.Is(err, nn.ErrCacheCapacityExceeded))

	_, err = s.Prime(prefix(tokens, 5))
	require.NoError(t, err)
	require.NoError(t, s.SetSequenceLength(1))
	_, err = s.Step(column(tokens, 5))
	assert.True(t, errors.Is(err, nn.ErrCacheCapacityExceeded))
	assert.Equal(t, 5, s.Seq(0), "failed step leaves the cache untouched")
}

func TestSession_BatchIndependence(t *testing.T) {
	m := newTestModel(t, cpu.New())

	batched := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8})
	_, err := batched.Prime(prefix(prompts, 3))
	require.NoError(t, err)
	require.NoError(t, batched.SetSequenceLength(1))
	together, err := batched.Step(column(prompts, 3))
	require.NoError(t, err)

	for b := 0; b < 2; b++ {
		alone := newTestSession(t, m, SessionConfig{Batch: 1, Capacity: 8})
		primed, err := alone.Prime([][]int32{prompts[b][:3]})
		require.NoError(t, err)
		require.NoError(t, alone.SetSequenceLength(1))
		logits, err := alone.Step([]int32{prompts[b][3]})
		require.NoError(t, err)
		assert.Equal(t, logits.Row(0, 0), together.Row(b, 0), "element %d", b)
		assert.Equal(t, tensor.Shape{1, 3, 256}, primed.Shape())
	}
}

func TestSession_ResetElement(t *testing.T) {
	m := newTestModel(t, cpu.New())
	s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8})

	_, err := s.Prime(prefix(prompts, 3))
	require.NoError(t, err)
	require.NoError(t, s.SetSequenceLength(1))
	require.NoError(t, s.ResetElement(1))
	assert.Equal(t, 0, s.Seq(1))
	assert.Equal(t, 3, s.Seq(0))

	// Element 1 restarts at position 1 while element 0 continues at 4.
	assert.Equal(t, 1, s.Cache().NextPosition(1))
	assert.Equal(t, 4, s.Cache().NextPosition(0))
	logits, err := s.Step([]int32{prompts[0][3], prompts[1][0]})
	require.NoError(t, err)

	fresh, err := m.Forward([][]int32{prompts[1][:1]}, tensor.Positions(1, 1, 1), model.ForwardOptions{})
	require.NoError(t, err)
	assert.Equal(t, fresh.Row(0, 0), logits.Row(1, 0))

	full, err := m.Forward([][]int32{prompts[0][:4]}, tensor.Positions(1, 1, 4), model.ForwardOptions{})
	require.NoError(t, err)
	assert.Equal(t, full.Row(0, 3), logits.Row(0, 0))
}

func TestSession_Float16Tolerance(t *testing.T) {
	m := newTestModel(t, cpu.New())

	run := func(p tensor.Precision) *tensor.RawTensor {
		s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8, Precision: p})
		_, err := s.Prime(prefix(prompts, 3))
		require.NoError(t, err)
		require.NoError(t, s.SetSequenceLength(1))
		logits, err := s.Step(column(prompts, 3))
		require.NoError(t, err)
		assert.Equal(t, p, logits.Precision())
		return logits
	}

	f32, f16 := run(tensor.Float32), run(tensor.Float16)
	if diff := cmp.Diff(f32.Data(), f16.Data(), cmpopts.EquateApprox(0.05, 0.05)); diff != "" {
		t.Errorf("float16 logits drifted (-f32 +f16):\n%s", diff)
	}
}

func TestSession_ParallelMatchesSequential(t *testing.T) {
	seqModel := newTestModel(t, cpu.New())
	parModel := newTestModel(t, cpu.New(cpu.WithParallel(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1})))

	run := func(m *model.Model) *tensor.RawTensor {
		s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8})
		_, err := s.Prime(prefix(prompts, 4))
		require.NoError(t, err)
		require.NoError(t, s.SetSequenceLength(1))
		logits, err := s.Step(column(prompts, 4))
		require.NoError(t, err)
		return logits
	}
	if diff := cmp.Diff(run(seqModel).Data(), run(parModel).Data()); diff != "" {
		t.Errorf("parallel backend differs (-sequential +parallel):\n%s", diff)
	}
}

func TestSession_Generate(t *testing.T) {
	m := newTestModel(t, cpu.New())
	greedy := func() *Sampler { return NewSampler(GreedySampling()) }

	primed := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 16})
	a, err := primed.Generate(context.Background(), prefix(prompts, 4), 4, 5, greedy())
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Len(t, a[0], 5)

	// Teacher forcing the prompt one token at a time yields the same tokens.
	forced := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 16})
	var done []int
	forced.SetProgress(func(d, total int) {
		assert.Equal(t, 5, total)
		done = append(done, d)
	})
	b, err := forced.Generate(context.Background(), prefix(prompts, 4), 0, 5, greedy())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, done)
	assert.Equal(t, 4+4, forced.Seq(0))

	// The greedy rollout agrees with the full path.
	seq := append(append([]int32(nil), prompts[0][:4]...), a[0]...)
	full, err := m.Forward([][]int32{seq}, tensor.Positions(1, 1, len(seq)), model.ForwardOptions{})
	require.NoError(t, err)
	for i, tok := range a[0] {
		assert.Equal(t, tok, argmax(full.Row(0, 3+i)), "token %d", i)
	}
}

func TestSession_GenerateCancelled(t *testing.T) {
	m := newTestModel(t, cpu.New())
	s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 16})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Generate(ctx, prefix(prompts, 4), 2, 3, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSession_Errors(t *testing.T) {
	m := newTestModel(t, cpu.New())
	s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8})

	_, err := s.Prime(prompts[:1])
	assert.True(t, errors.Is(err, nn.ErrDimensionMismatch))

	_, err = s.Prime(prefix(prompts, 3))
	require.NoError(t, err)
	_, err = s.Step(column(prompts, 3))
	assert.True(t, errors.Is(err, nn.ErrDimensionMismatch), "sequence length is still 3")

	assert.True(t, errors.Is(s.SetSequenceLength(0), nn.ErrDimensionMismatch))
	assert.True(t, errors.Is(s.SetSequenceLength(9), nn.ErrDimensionMismatch))

	_, err = s.Generate(context.Background(), prefix(prompts, 3), 4, 1, nil)
	assert.True(t, errors.Is(err, nn.ErrDimensionMismatch))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Step(column(prompts, 3))
	assert.True(t, errors.Is(err, ErrSessionClosed))
	assert.True(t, errors.Is(s.ResetElement(0), ErrSessionClosed))
	assert.True(t, errors.Is(s.SetSequenceLength(1), ErrSessionClosed))
	assert.True(t, s.Cache().Released())
}

func TestNewSession_InvalidCapacity(t *testing.T) {
	_, err := NewSession(newTestModel(t, cpu.New()), SessionConfig{Batch: 1, Capacity: 0})
	assert.True(t, errors.Is(err, nn.ErrDimensionMismatch))
}

func TestSession_PositionsStartAtOne(t *testing.T) {
	m := newTestModel(t, cpu.New())
	s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8})
	assert.Equal(t, 1, s.Cache().NextPosition(0))

	_, err := s.Prime(prefix(prompts, 3))
	require.NoError(t, err)
	view, err := s.Cache().Window(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, view.Positions[:3])
	assert.Equal(t, []bool{true, true, true, false}, view.Valid[:4])
	assert.Equal(t, 4, s.Cache().NextPosition(1))
}

func TestSession_ExtendInvalidTokenLeavesCacheUntouched(t *testing.T) {
	m := newTestModel(t, cpu.New())
	s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8})

	_, err := s.Prime(prefix(prompts, 2))
	require.NoError(t, err)
	require.NoError(t, s.SetSequenceLength(3))

	_, err = s.Extend([][]int32{{1, 999, 2}, {3, 4, 5}})
	assert.True(t, errors.Is(err, nn.ErrInvalidToken))
	_, err = s.Extend([][]int32{{1, 2, 3}, {4, 5, -1}})
	assert.True(t, errors.Is(err, nn.ErrInvalidToken))
	assert.Equal(t, 2, s.Seq(0))
	assert.Equal(t, 2, s.Seq(1))

	// The session keeps matching the full path after the rejected calls.
	logits, err := s.Extend([][]int32{prompts[0][2:5], prompts[1][2:5]})
	require.NoError(t, err)
	full, err := m.Forward(prefix(prompts, 5), tensor.Positions(2, 1, 5), model.ForwardOptions{})
	require.NoError(t, err)
	for b := 0; b < 2; b++ {
		assert.Equal(t, full.Row(b, 4), logits.Row(b, 2), "element %d", b)
	}
}

func TestSession_DebugRejectsStepWhileViewBorrowed(t *testing.T) {
	m := newTestModel(t, cpu.New())
	s := newTestSession(t, m, SessionConfig{Batch: 2, Capacity: 8, Debug: true})

	_, err := s.Prime(prefix(prompts, 3))
	require.NoError(t, err)
	require.NoError(t, s.SetSequenceLength(1))

	view, err := s.Cache().Window(1, 1)
	require.NoError(t, err)
	_, err = s.Step(column(prompts, 3))
	assert.True(t, errors.Is(err, nn.ErrViewBorrowed))
	_, err = s.Prime(prefix(prompts, 2))
	assert.True(t, errors.Is(err, nn.ErrViewBorrowed))
	assert.Equal(t, 3, s.Seq(0), "no element advances on a rejected step")
	assert.Equal(t, 3, s.Seq(1))

	view.Release()
	_, err = s.Step(column(prompts, 3))
	require.NoError(t, err)
	assert.Equal(t, 4, s.Seq(1))
}

func TestSession_SeqOutOfRange(t *testing.T) {
	s := newTestSession(t, newTestModel(t, cpu.New()), SessionConfig{Batch: 2, Capacity: 8})
	assert.NotPanics(t, func() {
		assert.Equal(t, 0, s.Seq(2))
		assert.Equal(t, 0, s.Seq(-1))
	})
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { assert.Equal(t, 0, s.Seq(0)) })
}
