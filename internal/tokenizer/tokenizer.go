// Package tokenizer turns prompts into token ids for the attention engine.
//
// Two tokenizers are available:
//   - byte: one token per UTF-8 byte, works offline, vocabulary 256
//   - tiktoken: BPE encodings used by GPT-3/GPT-4 (cl100k_base, p50k_base, r50k_base)
//
// Models with a vocabulary smaller than the tokenizer's see folded ids
// (id mod vocab); see Fold.
package tokenizer

import (
	"strings"

	"github.com/pkg/errors"
)

// Tokenizer is the core interface for text tokenization.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int32, error)

	// Decode converts token IDs back to text.
	Decode(tokens []int32) (string, error)

	// VocabSize returns the total vocabulary size.
	VocabSize() int

	// Name identifies the tokenizer.
	Name() string
}

// New returns the tokenizer called name ("byte" or a tiktoken encoding),
// folded into vocab ids when its vocabulary is larger.
func New(name string, vocab int) (Tokenizer, error) {
	var tok Tokenizer
	switch strings.ToLower(name) {
	case "", "byte":
		tok = Byte{}
	default:
		tt, err := NewTikToken(name)
		if err != nil {
			return nil, err
		}
		tok = tt
	}
	if vocab <= 0 {
		return nil, errors.Errorf("tokenizer: vocabulary must be positive, got %d", vocab)
	}
	if tok.VocabSize() > vocab {
		return Fold(tok, vocab), nil
	}
	return tok, nil
}
