// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the causal attention building blocks.
//
// Components, leaves first:
//   - RotaryEncoder: rotary position encoding of query/key heads
//   - Scorer: causal, head-grouped scaled dot-product scores
//   - CausalSoftmax: normalization over visible keys, empty rows all-zero
//   - Aggregator: probability-weighted sum of value vectors
//   - Attention: the four composed for full (non-cached) passes
//   - KVCache: bounded per-layer key/value arenas, optionally sliding
//
// Query head h reads key/value head h/(NbHeadsQuery/NbHeadsKey).
//
// Example:
//
//	backend := cpu.New()
//	attn, err := nn.NewAttention(nn.AttentionConfig{
//	    NbHeadsQuery: 4,
//	    NbHeadsKey:   2,
//	    HeadDim:      16,
//	}, backend)
//	out, err := attn.Forward(q, k, v, tensor.Positions(1, 1, seq))
package nn
