// Package model implements a small decoder-only language model around the
// grouped-query attention in package nn.
//
// Architecture (Pre-Norm, LLaMA style):
//
//	x → RMSNorm → Q/K/V → RoPE → attention → O → + → RMSNorm → MLP(SiLU) → +
//	         ↑______________________________________|                  ↑___|
//
// Weights are drawn from a seeded rng, so two models built from the same
// Config are identical. The model is stateless: cached decoding is driven by
// generate.Session through Embed, Project, Finish and Logits.
package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/nn"
	"github.com/born-ml/causal/internal/tensor"
)

// Config defines the model architecture.
type Config struct {
	VocabSize    int     // Token vocabulary
	DModel       int     // Hidden width
	NbLayers     int     // Transformer blocks
	NbHeadsQuery int     // Query heads per block
	NbHeadsKey   int     // Key/value heads per block
	HeadDim      int     // Dimension per head
	Hidden       int     // MLP hidden width
	RopeBase     float64 // RoPE frequency base (default: 10000)
	Epsilon      float32 // RMSNorm epsilon (default: 1e-5)
	Seed         int64   // Weight initialization seed
}

// DefaultConfig returns a tiny byte-level configuration.
func DefaultConfig() Config {
	return Config{
		VocabSize:    256,
		DModel:       64,
		NbLayers:     2,
		NbHeadsQuery: 4,
		NbHeadsKey:   2,
		HeadDim:      16,
		Hidden:       128,
		RopeBase:     nn.DefaultRopeBase,
		Epsilon:      1e-5,
		Seed:         42,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.VocabSize <= 0 || c.DModel <= 0 || c.NbLayers <= 0 || c.Hidden <= 0 {
		return errors.Wrapf(nn.ErrDimensionMismatch, "model: vocab=%d dModel=%d layers=%d hidden=%d must be positive",
			c.VocabSize, c.DModel, c.NbLayers, c.Hidden)
	}
	if c.NbHeadsKey <= 0 || c.NbHeadsQuery%c.NbHeadsKey != 0 {
		return errors.Wrapf(nn.ErrHeadGroupMismatch, "model: %d query heads over %d key heads", c.NbHeadsQuery, c.NbHeadsKey)
	}
	if c.HeadDim <= 0 || c.HeadDim%2 != 0 {
		return errors.Wrapf(nn.ErrDimensionMismatch, "model: head dimension %d must be even", c.HeadDim)
	}
	return nil
}

// Block is one pre-norm transformer block.
type Block struct {
	AttnNorm  *nn.RMSNorm
	Query     *nn.Linear // [DModel -> NbHeadsQuery*HeadDim]
	Key       *nn.Linear // [DModel -> NbHeadsKey*HeadDim]
	Value     *nn.Linear // [DModel -> NbHeadsKey*HeadDim]
	Output    *nn.Linear // [NbHeadsQuery*HeadDim -> DModel]
	Attention *nn.Attention
	MLPNorm   *nn.RMSNorm
	Up        *nn.Linear // [DModel -> Hidden]
	Down      *nn.Linear // [Hidden -> DModel]
}

// Model is a decoder-only transformer.
type Model struct {
	cfg       Config
	backend   tensor.Backend
	embedding *nn.Embedding
	blocks    []*Block
	finalNorm *nn.RMSNorm
	head      *nn.Linear // [DModel -> VocabSize]
}

// New builds a model with seeded weights computing on backend.
func New(cfg Config, backend tensor.Backend) (*Model, error) {
	if cfg.RopeBase <= 0 {
		cfg.RopeBase = nn.DefaultRopeBase
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-5
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &Model{
		cfg:       cfg,
		backend:   backend,
		embedding: nn.NewEmbedding(cfg.VocabSize, cfg.DModel, rng),
		blocks:    make([]*Block, cfg.NbLayers),
		finalNorm: nn.NewRMSNorm(cfg.DModel, cfg.Epsilon),
	}

	qWidth := cfg.NbHeadsQuery * cfg.HeadDim
	kvWidth := cfg.NbHeadsKey * cfg.HeadDim
	for l := range m.blocks {
		attn, err := nn.NewAttention(nn.AttentionConfig{
			NbHeadsQuery: cfg.NbHeadsQuery,
			NbHeadsKey:   cfg.NbHeadsKey,
			HeadDim:      cfg.HeadDim,
			RopeBase:     cfg.RopeBase,
		}, backend)
		if err != nil {
			return nil, errors.WithMessagef(err, "model: layer %d", l)
		}
		m.blocks[l] = &Block{
			AttnNorm:  nn.NewRMSNorm(cfg.DModel, cfg.Epsilon),
			Query:     nn.NewLinear(cfg.DModel, qWidth, rng),
			Key:       nn.NewLinear(cfg.DModel, kvWidth, rng),
			Value:     nn.NewLinear(cfg.DModel, kvWidth, rng),
			Output:    nn.NewLinear(qWidth, cfg.DModel, rng),
			Attention: attn,
			MLPNorm:   nn.NewRMSNorm(cfg.DModel, cfg.Epsilon),
			Up:        nn.NewLinear(cfg.DModel, cfg.Hidden, rng),
			Down:      nn.NewLinear(cfg.Hidden, cfg.DModel, rng),
		}
	}
	m.head = nn.NewLinear(cfg.DModel, cfg.VocabSize, rng)
	return m, nil
}

// Config returns the model configuration.
func (m *Model) Config() Config { return m.cfg }

// Backend returns the attention backend.
func (m *Model) Backend() tensor.Backend { return m.backend }

// NumLayers returns the number of transformer blocks.
func (m *Model) NumLayers() int { return len(m.blocks) }

// Block returns transformer block l.
func (m *Model) Block(l int) *Block { return m.blocks[l] }

// Embed looks up tokens [batch][seq] and returns hidden states
// [batch, seq, DModel] at the given precision.
func (m *Model) Embed(tokens [][]int32, precision tensor.Precision) (*tensor.RawTensor, error) {
	return m.embedding.Forward(tokens, precision)
}

// Project normalizes h and returns the per-head queries
// [batch, seq, NbHeadsQuery, HeadDim] and keys/values
// [batch, seq, NbHeadsKey, HeadDim] of layer l. Nothing is rotated yet.
func (m *Model) Project(l int, h *tensor.RawTensor) (q, k, v *tensor.RawTensor, err error) {
	blk := m.blocks[l]
	x, err := blk.AttnNorm.Forward(h)
	if err != nil {
		return nil, nil, nil, err
	}
	shape := h.Shape()
	batch, seq := shape[0], shape[1]

	project := func(lin *nn.Linear, heads int) (*tensor.RawTensor, error) {
		out, err := lin.Forward(x)
		if err != nil {
			return nil, err
		}
		return out.Reshape(tensor.Shape{batch, seq, heads, m.cfg.HeadDim})
	}
	if q, err = project(blk.Query, m.cfg.NbHeadsQuery); err != nil {
		return nil, nil, nil, err
	}
	if k, err = project(blk.Key, m.cfg.NbHeadsKey); err != nil {
		return nil, nil, nil, err
	}
	if v, err = project(blk.Value, m.cfg.NbHeadsKey); err != nil {
		return nil, nil, nil, err
	}
	return q, k, v, nil
}

// Finish applies the output projection, both residuals and the MLP of
// layer l. h is the block input [batch, seq, DModel], attnOut the attention
// output [batch, seq, NbHeadsQuery, HeadDim].
func (m *Model) Finish(l int, h, attnOut *tensor.RawTensor) (*tensor.RawTensor, error) {
	blk := m.blocks[l]
	shape := h.Shape()
	flat, err := attnOut.Reshape(tensor.Shape{shape[0], shape[1], m.cfg.NbHeadsQuery * m.cfg.HeadDim})
	if err != nil {
		return nil, errors.Wrap(nn.ErrDimensionMismatch, err.Error())
	}
	o, err := blk.Output.Forward(flat)
	if err != nil {
		return nil, err
	}
	h = add(h, o)

	x, err := blk.MLPNorm.Forward(h)
	if err != nil {
		return nil, err
	}
	up, err := blk.Up.Forward(x)
	if err != nil {
		return nil, err
	}
	down, err := blk.Down.Forward(silu(up))
	if err != nil {
		return nil, err
	}
	return add(h, down), nil
}

// Logits applies the final norm and the output head: [batch, seq, VocabSize].
func (m *Model) Logits(h *tensor.RawTensor) (*tensor.RawTensor, error) {
	x, err := m.finalNorm.Forward(h)
	if err != nil {
		return nil, err
	}
	return m.head.Forward(x)
}

// KeyHook receives the rotated keys and the values of every layer during
// Forward, e.g. to fill a KV cache.
type KeyHook func(layer int, keys, values *tensor.RawTensor) error

// ForwardOptions tunes a full-sequence Forward.
type ForwardOptions struct {
	Precision tensor.Precision
	Window    int     // Sliding attention window (0 = unbounded)
	OnKeys    KeyHook // Optional
}

// Forward runs the full causal path over tokens [batch][seq] at positions
// [batch][seq] and returns logits [batch, seq, VocabSize].
func (m *Model) Forward(tokens [][]int32, positions [][]int, opts ForwardOptions) (*tensor.RawTensor, error) {
	h, err := m.Embed(tokens, opts.Precision)
	if err != nil {
		return nil, err
	}
	mask := nn.CausalMask(positions, opts.Window)

	for l, blk := range m.blocks {
		q, k, v, err := m.Project(l, h)
		if err != nil {
			return nil, errors.WithMessagef(err, "layer %d", l)
		}
		qr, kr, err := blk.Attention.Rotate(q, k, positions)
		if err != nil {
			return nil, errors.WithMessagef(err, "layer %d", l)
		}
		if opts.OnKeys != nil {
			if err := opts.OnKeys(l, kr, v); err != nil {
				return nil, errors.WithMessagef(err, "layer %d", l)
			}
		}
		out, _, err := blk.Attention.Attend(qr, kr, v, mask)
		if err != nil {
			return nil, errors.WithMessagef(err, "layer %d", l)
		}
		if h, err = m.Finish(l, h, out); err != nil {
			return nil, errors.WithMessagef(err, "layer %d", l)
		}
	}
	return m.Logits(h)
}

func add(a, b *tensor.RawTensor) *tensor.RawTensor {
	out := a.Clone()
	dst, src := out.Data(), b.Data()
	for i := range dst {
		dst[i] += src[i]
	}
	return out.Round()
}

// silu computes x * sigmoid(x).
func silu(x *tensor.RawTensor) *tensor.RawTensor {
	out := x.Clone()
	data := out.Data()
	for i, v := range data {
		data[i] = v / (1 + float32(math.Exp(float64(-v))))
	}
	return out.Round()
}
