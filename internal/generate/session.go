// Package generate drives autoregressive decoding: a Session primes a KV
// cache from a prompt and then extends every sequence of its batch one
// position at a time.
package generate

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/causal/internal/envconfig"
	"github.com/born-ml/causal/internal/model"
	"github.com/born-ml/causal/internal/nn"
	"github.com/born-ml/causal/internal/tensor"
)

// ErrSessionClosed reports use of a session after Close.
var ErrSessionClosed = errors.New("session closed")

// SessionConfig fixes the cache geometry and numeric mode of a Session.
type SessionConfig struct {
	Batch     int              // Independent sequences
	Capacity  int              // KV cache positions per sequence (seqMax)
	Sliding   bool             // Evict the oldest position instead of failing when full
	Precision tensor.Precision // Session-wide precision
	Debug     bool             // Reject steps while a cache Window view is borrowed
}

// DefaultSessionConfig reads the BORN_* environment for a batch of one.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Batch:     1,
		Capacity:  int(envconfig.SeqMax()),
		Sliding:   envconfig.Sliding(),
		Precision: envconfig.Precision(),
		Debug:     envconfig.Debug(),
	}
}

// Session owns one KV cache and runs a model over it.
//
// Lifecycle:
//
//	s, _ := generate.NewSession(m, cfg)
//	logits, _ := s.Prime(prompt)     // full causal pass, fills the cache
//	_ = s.SetSequenceLength(1)
//	logits, _ = s.Step(next)         // one position per batch element
//	s.Close()
//
// A Session is not safe for concurrent use; each call runs to completion
// before the next.
type Session struct {
	id     uuid.UUID
	model  *model.Model
	cfg    SessionConfig
	cache  *nn.KVCache
	seqLen int

	progress func(done, total int)
	closed   bool
}

// NewSession allocates the KV cache of a session.
func NewSession(m *model.Model, cfg SessionConfig) (*Session, error) {
	mc := m.Config()
	cache, err := nn.NewKVCache(nn.KVCacheConfig{
		Layers:     mc.NbLayers,
		Batch:      cfg.Batch,
		NbHeadsKey: mc.NbHeadsKey,
		HeadDim:    mc.HeadDim,
		Capacity:   cfg.Capacity,
		Sliding:    cfg.Sliding,
		Precision:  cfg.Precision,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "generate: new session")
	}

	s := &Session{
		id:     uuid.New(),
		model:  m,
		cfg:    cfg,
		cache:  cache,
		seqLen: 1,
	}
	klog.V(1).Infof("session %s: backend=%s precision=%s batch=%d capacity=%d sliding=%t cache=%s",
		s.id, m.Backend().Name(), cfg.Precision, cfg.Batch, cfg.Capacity, cfg.Sliding,
		humanize.IBytes(uint64(cache.Bytes())))
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Config returns the session configuration.
func (s *Session) Config() SessionConfig { return s.cfg }

// Model returns the model the session runs.
func (s *Session) Model() *model.Model { return s.model }

// Cache returns the session's KV cache.
func (s *Session) Cache() *nn.KVCache { return s.cache }

// SequenceLength returns the number of positions each call processes.
func (s *Session) SequenceLength() int { return s.seqLen }

// Seq returns how many positions element b has written since its last reset.
func (s *Session) Seq(b int) int { return s.cache.Seq(b) }

// SetProgress registers a callback invoked after every Generate step.
func (s *Session) SetProgress(f func(done, total int)) { s.progress = f }

// window is the attention window of the full path: a sliding cache only
// ever holds Capacity positions.
func (s *Session) window() int {
	if s.cfg.Sliding {
		return s.cfg.Capacity
	}
	return 0
}

func (s *Session) checkBatch(n int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if n != s.cfg.Batch {
		return errors.Wrapf(nn.ErrDimensionMismatch, "generate: got %d sequences, session batch is %d", n, s.cfg.Batch)
	}
	return nil
}

// Prime runs the full causal path over a prompt prefix [batch][L] at
// positions 1..L, replacing the cache contents, and returns logits
// [batch, L, vocab]. The sequence length becomes L.
func (s *Session) Prime(tokens [][]int32) (*tensor.RawTensor, error) {
	if err := s.checkBatch(len(tokens)); err != nil {
		return nil, err
	}
	n := len(tokens[0])
	for b, row := range tokens {
		if len(row) != n || n == 0 {
			return nil, errors.Wrapf(nn.ErrDimensionMismatch, "generate: prime row %d has %d tokens, want %d > 0", b, len(row), n)
		}
	}
	if !s.cfg.Sliding && n > s.cfg.Capacity {
		return nil, errors.Wrapf(nn.ErrCacheCapacityExceeded, "generate: prompt of %d tokens exceeds capacity %d", n, s.cfg.Capacity)
	}
	for b := 0; b < s.cfg.Batch; b++ {
		if err := s.cache.Writable(b); err != nil {
			return nil, errors.WithMessage(err, "generate: prime")
		}
	}

	positions := tensor.Positions(s.cfg.Batch, 1, n)
	logits, err := s.model.Forward(tokens, positions, model.ForwardOptions{
		Precision: s.cfg.Precision,
		Window:    s.window(),
		OnKeys: func(layer int, keys, values *tensor.RawTensor) error {
			return s.cache.Prime(layer, keys, values, positions)
		},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "generate: prime")
	}
	s.seqLen = n
	klog.V(1).Infof("session %s: primed %d positions", s.id, n)
	return logits, nil
}

// SetSequenceLength sets how many positions the next calls process. Cache
// contents are untouched.
func (s *Session) SetSequenceLength(n int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if n < 1 || (!s.cfg.Sliding && n > s.cfg.Capacity) {
		return errors.Wrapf(nn.ErrDimensionMismatch, "generate: sequence length %d outside [1, %d]", n, s.cfg.Capacity)
	}
	s.seqLen = n
	return nil
}

// Step feeds one token per batch element at each element's next position
// and returns logits [batch, 1, vocab]. The sequence length must be 1.
func (s *Session) Step(tokens []int32) (*tensor.RawTensor, error) {
	column := make([][]int32, len(tokens))
	for b, tok := range tokens {
		column[b] = []int32{tok}
	}
	return s.Extend(column)
}

// Extend feeds SequenceLength tokens per batch element through the cache
// and returns logits [batch, SequenceLength, vocab].
//
// Positions are appended and attended one at a time, so the result equals
// the full causal path over the same history. Every row is validated first:
// an unknown token, a borrowed cache view or a non-sliding cache without room
// for every position fails before anything is written.
func (s *Session) Extend(tokens [][]int32) (*tensor.RawTensor, error) {
	if err := s.checkBatch(len(tokens)); err != nil {
		return nil, err
	}
	for b, row := range tokens {
		if len(row) != s.seqLen {
			return nil, errors.Wrapf(nn.ErrDimensionMismatch, "generate: row %d has %d tokens, sequence length is %d",
				b, len(row), s.seqLen)
		}
		if !s.cfg.Sliding && s.cache.Seq(b)+s.seqLen > s.cfg.Capacity {
			return nil, errors.Wrapf(nn.ErrCacheCapacityExceeded, "generate: element %d holds %d of %d positions, cannot add %d",
				b, s.cache.Seq(b), s.cfg.Capacity, s.seqLen)
		}
		if err := s.cache.Writable(b); err != nil {
			return nil, errors.WithMessage(err, "generate: extend")
		}
	}
	vocab := s.model.Config().VocabSize
	for b, row := range tokens {
		for i, tok := range row {
			if tok < 0 || int(tok) >= vocab {
				return nil, errors.Wrapf(nn.ErrInvalidToken, "generate: row %d token %d is %d, vocabulary is %d", b, i, tok, vocab)
			}
		}
	}

	logits := tensor.Zeros(tensor.Shape{s.cfg.Batch, s.seqLen, vocab}, s.cfg.Precision)
	for i := 0; i < s.seqLen; i++ {
		column := make([][]int32, s.cfg.Batch)
		for b := range column {
			column[b] = tokens[b][i : i+1]
		}
		out, err := s.step(column)
		if err != nil {
			return nil, err
		}
		for b := 0; b < s.cfg.Batch; b++ {
			copy(logits.Row(b, i), out.Row(b, 0))
		}
	}
	return logits, nil
}

// step runs one position per element through every layer.
func (s *Session) step(column [][]int32) (*tensor.RawTensor, error) {
	positions := make([][]int, s.cfg.Batch)
	for b := range positions {
		positions[b] = []int{s.cache.NextPosition(b)}
	}

	h, err := s.model.Embed(column, s.cfg.Precision)
	if err != nil {
		return nil, errors.WithMessage(err, "generate: step")
	}
	for l := 0; l < s.model.NumLayers(); l++ {
		attn := s.model.Block(l).Attention
		q, k, v, err := s.model.Project(l, h)
		if err != nil {
			return nil, errors.WithMessagef(err, "generate: layer %d", l)
		}
		qr, kr, err := attn.Rotate(q, k, positions)
		if err != nil {
			return nil, errors.WithMessagef(err, "generate: layer %d", l)
		}
		for b := 0; b < s.cfg.Batch; b++ {
			if err := s.cache.Append(l, b, positions[b][0], kr.Row(b, 0), v.Row(b, 0)); err != nil {
				return nil, errors.WithMessagef(err, "generate: layer %d", l)
			}
		}

		keys, values, keyPos, err := s.cache.Batched(l)
		if err != nil {
			return nil, errors.WithMessagef(err, "generate: layer %d", l)
		}
		out, _, err := attn.Attend(qr, keys, values, &tensor.AttentionMask{
			QueryPos: positions,
			KeyPos:   keyPos,
			Window:   s.window(),
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "generate: layer %d", l)
		}
		if h, err = s.model.Finish(l, h, out); err != nil {
			return nil, errors.WithMessagef(err, "generate: layer %d", l)
		}
	}

	if klog.V(2).Enabled() {
		for b := range positions {
			klog.Infof("session %s: element %d position %d resident=%d/%d",
				s.id, b, positions[b][0], s.cache.Resident(b), s.cfg.Capacity)
		}
	}
	return s.model.Logits(h)
}

// Generate primes the first primeLen tokens of every prompt, feeds the rest
// of the prompt one position at a time and then samples
// steps new tokens per element. Cancellation is honoured between steps.
//
// Returns the sampled tokens [batch][steps].
func (s *Session) Generate(ctx context.Context, prompts [][]int32, primeLen, steps int, sampler *Sampler) ([][]int32, error) {
	if err := s.checkBatch(len(prompts)); err != nil {
		return nil, err
	}
	promptLen := len(prompts[0])
	for b, row := range prompts {
		if len(row) != promptLen {
			return nil, errors.Wrapf(nn.ErrDimensionMismatch, "generate: prompt %d has %d tokens, want %d", b, len(row), promptLen)
		}
	}
	if promptLen == 0 || primeLen < 0 || primeLen > promptLen {
		return nil, errors.Wrapf(nn.ErrDimensionMismatch, "generate: prime length %d for prompts of %d tokens", primeLen, promptLen)
	}

	if sampler == nil {
		sampler = NewSampler(GreedySampling())
	}

	history := make([][]int32, s.cfg.Batch)
	for b, row := range prompts {
		history[b] = append([]int32(nil), row...)
	}

	var logits *tensor.RawTensor
	var err error
	if primeLen > 0 {
		prefix := make([][]int32, s.cfg.Batch)
		for b, row := range prompts {
			prefix[b] = row[:primeLen]
		}
		if logits, err = s.Prime(prefix); err != nil {
			return nil, err
		}
	}
	if err := s.SetSequenceLength(1); err != nil {
		return nil, err
	}

	column := make([]int32, s.cfg.Batch)
	for t := primeLen; t < promptLen; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for b := range column {
			column[b] = prompts[b][t]
		}
		if logits, err = s.Step(column); err != nil {
			return nil, err
		}
	}

	generated := make([][]int32, s.cfg.Batch)
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		next := sampler.SampleBatch(logits, history)
		for b, tok := range next {
			generated[b] = append(generated[b], tok)
			history[b] = append(history[b], tok)
		}
		if s.progress != nil {
			s.progress(i+1, steps)
		}
		if i == steps-1 {
			break
		}
		if logits, err = s.Step(next); err != nil {
			return generated, err
		}
	}
	return generated, nil
}

// ResetElement empties the cache of batch element b. The element restarts
// at position 1; other elements are untouched.
func (s *Session) ResetElement(b int) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.cache.Reset(b)
}

// Close releases the cache. Further calls return ErrSessionClosed.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.cache.Release()
	s.closed = true
	klog.V(1).Infof("session %s: closed", s.id)
	return nil
}
