package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/tensor"
)

// AttentionConfig configures grouped-query causal attention.
type AttentionConfig struct {
	NbHeadsQuery int     // Query heads
	NbHeadsKey   int     // Key/value heads (divides NbHeadsQuery)
	HeadDim      int     // Dimension per head (even)
	RopeBase     float64 // RoPE frequency base (default: 10000)
	Window       int     // Sliding window in positions (0 = unbounded)
}

// Attention composes RoPE, grouped scoring, causal softmax and value
// aggregation.
//
// Architecture:
//
//	Q' = RoPE(Q, positions)   K' = RoPE(K, positions)
//	S  = Q'·K'ᵀ / sqrt(headDim)          (query head h reads KV head h/group)
//	P  = CausalSoftmax(S, mask)
//	O  = P·V
//
// Forward runs the whole sequence in one call. Cached decoding uses Rotate
// and Attend separately so new keys can be stored between the two.
//
// Example:
//
//	attn, err := nn.NewAttention(nn.AttentionConfig{
//	    NbHeadsQuery: 8,
//	    NbHeadsKey:   2,
//	    HeadDim:      64,
//	}, backend)
//	out, err := attn.Forward(q, k, v, positions)
type Attention struct {
	cfg AttentionConfig

	queryRope  *RotaryEncoder
	keyRope    *RotaryEncoder
	scorer     *Scorer
	softmax    *CausalSoftmax
	aggregator *Aggregator
}

// NewAttention creates an Attention block.
func NewAttention(cfg AttentionConfig, backend tensor.Backend) (*Attention, error) {
	if cfg.Window < 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "attention: negative window %d", cfg.Window)
	}
	scorer, err := NewScorer(cfg.NbHeadsQuery, cfg.NbHeadsKey, cfg.HeadDim, backend)
	if err != nil {
		return nil, err
	}
	aggregator, err := NewAggregator(cfg.NbHeadsQuery, cfg.NbHeadsKey, cfg.HeadDim, backend)
	if err != nil {
		return nil, err
	}
	queryRope, err := NewRotaryEncoder(RotaryConfig{NbHeads: cfg.NbHeadsQuery, HeadDim: cfg.HeadDim, Base: cfg.RopeBase}, backend)
	if err != nil {
		return nil, err
	}
	keyRope, err := NewRotaryEncoder(RotaryConfig{NbHeads: cfg.NbHeadsKey, HeadDim: cfg.HeadDim, Base: cfg.RopeBase}, backend)
	if err != nil {
		return nil, err
	}
	if cfg.RopeBase <= 0 {
		cfg.RopeBase = DefaultRopeBase
	}

	return &Attention{
		cfg:        cfg,
		queryRope:  queryRope,
		keyRope:    keyRope,
		scorer:     scorer,
		softmax:    NewCausalSoftmax(backend),
		aggregator: aggregator,
	}, nil
}

// Config returns the attention configuration.
func (a *Attention) Config() AttentionConfig { return a.cfg }

// Scorer returns the grouped scorer.
func (a *Attention) Scorer() *Scorer { return a.scorer }

// Forward attends every position of a fresh sequence to itself.
//
// q is [batch, seq, nbHeadsQuery, headDim], k and v are [batch, seq,
// nbHeadsKey, headDim], positions is [batch][seq]. Returns [batch, seq,
// nbHeadsQuery, headDim].
func (a *Attention) Forward(q, k, v *tensor.RawTensor, positions [][]int) (*tensor.RawTensor, error) {
	qr, kr, err := a.Rotate(q, k, positions)
	if err != nil {
		return nil, err
	}
	out, _, err := a.Attend(qr, kr, v, CausalMask(positions, a.cfg.Window))
	return out, err
}

// Rotate applies RoPE to queries and keys at the given positions.
func (a *Attention) Rotate(q, k *tensor.RawTensor, positions [][]int) (*tensor.RawTensor, *tensor.RawTensor, error) {
	qr, err := a.queryRope.Forward(q, positions)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "attention: query")
	}
	kr, err := a.keyRope.Forward(k, positions)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "attention: key")
	}
	return qr, kr, nil
}

// Attend runs scoring, softmax and aggregation over already rotated keys.
// It returns the attention output and the probabilities.
func (a *Attention) Attend(q, k, v *tensor.RawTensor, mask *tensor.AttentionMask) (*tensor.RawTensor, *tensor.RawTensor, error) {
	if !k.Shape().Equal(v.Shape()) {
		return nil, nil, errors.Wrapf(ErrDimensionMismatch, "attention: k %v and v %v differ", k.Shape(), v.Shape())
	}
	scores, err := a.scorer.Scores(q, k, mask)
	if err != nil {
		return nil, nil, err
	}
	probs, err := a.softmax.Forward(scores, mask)
	if err != nil {
		return nil, nil, err
	}
	out, err := a.aggregator.Aggregate(probs, v)
	if err != nil {
		return nil, nil, err
	}
	return out, probs, nil
}
