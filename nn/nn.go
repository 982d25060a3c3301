// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/causal/internal/nn"
	"github.com/born-ml/causal/tensor"
)

// DefaultRopeBase is the conventional RoPE frequency base.
const DefaultRopeBase = nn.DefaultRopeBase

// Errors reported by the attention components. Match them with errors.Is.
var (
	ErrDimensionMismatch     = nn.ErrDimensionMismatch
	ErrHeadGroupMismatch     = nn.ErrHeadGroupMismatch
	ErrCacheCapacityExceeded = nn.ErrCacheCapacityExceeded
	ErrInvalidPosition       = nn.ErrInvalidPosition
	ErrPositionOrder         = nn.ErrPositionOrder
	ErrPrecisionMismatch     = nn.ErrPrecisionMismatch
	ErrCacheReleased         = nn.ErrCacheReleased
	ErrViewBorrowed          = nn.ErrViewBorrowed
)

// Rotary encoding

// RotaryConfig configures a RotaryEncoder.
type RotaryConfig = nn.RotaryConfig

// RotaryEncoder applies rotary position encoding.
type RotaryEncoder = nn.RotaryEncoder

// NewRotaryEncoder creates a rotary encoder for cfg.NbHeads heads of
// cfg.HeadDim (even) channels.
func NewRotaryEncoder(cfg RotaryConfig, backend tensor.Backend) (*RotaryEncoder, error) {
	return nn.NewRotaryEncoder(cfg, backend)
}

// Attention pipeline

// Scorer computes causal grouped attention scores.
type Scorer = nn.Scorer

// NewScorer creates a scorer. nbHeadsQuery must be a multiple of nbHeadsKey.
func NewScorer(nbHeadsQuery, nbHeadsKey, headDim int, backend tensor.Backend) (*Scorer, error) {
	return nn.NewScorer(nbHeadsQuery, nbHeadsKey, headDim, backend)
}

// CausalMask builds the mask of a full pass over positions.
func CausalMask(positions [][]int, window int) *tensor.AttentionMask {
	return nn.CausalMask(positions, window)
}

// CausalSoftmax normalizes scores over visible keys.
type CausalSoftmax = nn.CausalSoftmax

// NewCausalSoftmax creates a causal softmax.
func NewCausalSoftmax(backend tensor.Backend) *CausalSoftmax {
	return nn.NewCausalSoftmax(backend)
}

// Aggregator sums value vectors weighted by attention probabilities.
type Aggregator = nn.Aggregator

// NewAggregator creates an aggregator.
func NewAggregator(nbHeadsQuery, nbHeadsKey, headDim int, backend tensor.Backend) (*Aggregator, error) {
	return nn.NewAggregator(nbHeadsQuery, nbHeadsKey, headDim, backend)
}

// AttentionConfig configures grouped-query causal attention.
type AttentionConfig = nn.AttentionConfig

// Attention composes rotary encoding, scoring, softmax and aggregation.
type Attention = nn.Attention

// NewAttention creates grouped-query causal attention.
func NewAttention(cfg AttentionConfig, backend tensor.Backend) (*Attention, error) {
	return nn.NewAttention(cfg, backend)
}

// KV cache

// KVCacheConfig configures a KVCache.
type KVCacheConfig = nn.KVCacheConfig

// KVCache holds per-layer key/value arenas for a batch of sequences.
type KVCache = nn.KVCache

// View is a read-only borrow of one (layer, element) arena, valid until the
// next write to it.
type View = nn.View

// NewKVCache allocates the arenas of every layer.
func NewKVCache(cfg KVCacheConfig) (*KVCache, error) {
	return nn.NewKVCache(cfg)
}
