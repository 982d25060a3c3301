// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package generate provides autoregressive decoding over a KV cache.
//
// Components:
//   - Model: seeded decoder (embedding, grouped-query attention blocks, head)
//   - Session: one KV cache driven by priming, single-position steps and
//     multi-token extension
//   - Sampler: greedy, temperature, top-k and top-p sampling
//
// Example usage:
//
//	m, err := generate.NewModel(generate.DefaultModelConfig(), cpu.New())
//	session, err := generate.NewSession(m, generate.DefaultSessionConfig())
//	defer session.Close()
//
//	out, err := session.Generate(ctx, [][]int32{prompt}, len(prompt), 32,
//	    generate.NewSampler(generate.GreedySampling()))
package generate

import (
	"github.com/born-ml/causal/internal/generate"
	"github.com/born-ml/causal/internal/model"
	"github.com/born-ml/causal/tensor"
)

// Model

// ModelConfig configures a Model.
type ModelConfig = model.Config

// Model is a small decoder whose attention layers run over a KV cache.
type Model = model.Model

// ForwardOptions configures a full (non-cached) Model.Forward pass.
type ForwardOptions = model.ForwardOptions

// DefaultModelConfig returns the configuration used by the CLI and tests.
func DefaultModelConfig() ModelConfig {
	return model.DefaultConfig()
}

// NewModel builds a model with weights drawn from cfg.Seed.
func NewModel(cfg ModelConfig, backend tensor.Backend) (*Model, error) {
	return model.New(cfg, backend)
}

// Session

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = generate.ErrSessionClosed

// SessionConfig configures a Session.
type SessionConfig = generate.SessionConfig

// Session owns one KV cache and runs a model over it.
type Session = generate.Session

// DefaultSessionConfig reads the BORN_* environment for a batch of one.
func DefaultSessionConfig() SessionConfig {
	return generate.DefaultSessionConfig()
}

// NewSession allocates the KV cache of a session for m.
func NewSession(m *Model, cfg SessionConfig) (*Session, error) {
	return generate.NewSession(m, cfg)
}

// Sampling

// SamplingConfig configures the sampling strategy.
//
// Parameters:
//   - Temperature: 0 = greedy, 1 = unchanged logits
//   - TopK: keep the K most likely tokens (0 = disabled)
//   - TopP: nucleus mass (1.0 = disabled)
//   - RepeatPenalty: penalty for recent tokens (1.0 = none)
//   - RepeatWindow: tokens considered for the penalty (0 = all)
//   - Seed: random seed (-1 = random)
type SamplingConfig = generate.SamplingConfig

// Sampler picks tokens from logits.
type Sampler = generate.Sampler

// DefaultSamplingConfig returns sensible defaults for text generation.
func DefaultSamplingConfig() SamplingConfig {
	return generate.DefaultSamplingConfig()
}

// GreedySampling returns a configuration that always picks the arg-max.
func GreedySampling() SamplingConfig {
	return generate.GreedySampling()
}

// NewSampler creates a sampler.
func NewSampler(config SamplingConfig) *Sampler {
	return generate.NewSampler(config)
}
