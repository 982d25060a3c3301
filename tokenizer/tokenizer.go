// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tokenizer turns prompts into token ids.
//
// Example:
//
//	tok, err := tokenizer.New("cl100k_base", 256)
//	ids, err := tok.Encode("Hello, world!")
package tokenizer

import (
	"github.com/born-ml/causal/internal/tokenizer"
)

// Tokenizer converts between text and token ids.
type Tokenizer = tokenizer.Tokenizer

// Byte is the offline byte-level tokenizer.
type Byte = tokenizer.Byte

// TikToken wraps an OpenAI BPE encoding.
type TikToken = tokenizer.TikToken

// New returns the tokenizer called name ("byte", "cl100k_base",
// "p50k_base" or "r50k_base"), folded into vocab ids when its vocabulary is
// larger.
func New(name string, vocab int) (Tokenizer, error) {
	return tokenizer.New(name, vocab)
}

// NewTikToken loads an OpenAI encoding.
func NewTikToken(encoding string) (*TikToken, error) {
	return tokenizer.NewTikToken(encoding)
}
