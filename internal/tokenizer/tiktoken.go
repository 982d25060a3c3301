package tokenizer

import (
	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
)

// vocabSizes holds the mergeable-rank counts of the supported encodings;
// tiktoken-go does not expose them.
var vocabSizes = map[string]int{
	"cl100k_base": 100256,
	"p50k_base":   50257,
	"r50k_base":   50257,
}

// TikToken wraps the pkoukk/tiktoken-go library for OpenAI tokenizers.
//
// Supported encodings:
//   - cl100k_base: GPT-4, GPT-3.5-turbo
//   - p50k_base: GPT-3, Codex
//   - r50k_base: GPT-3, davinci
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTikToken loads the named encoding. The BPE ranks are fetched on first
// use unless TIKTOKEN_CACHE_DIR already holds them.
func NewTikToken(encodingName string) (*TikToken, error) {
	if _, ok := vocabSizes[encodingName]; !ok {
		return nil, errors.Errorf("tiktoken: unsupported encoding %q", encodingName)
	}
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, errors.Wrapf(err, "tiktoken: load encoding %q", encodingName)
	}
	return &TikToken{encoding: encoding, name: encodingName}, nil
}

// Encode converts text to token IDs.
func (t *TikToken) Encode(text string) ([]int32, error) {
	tokens := t.encoding.Encode(text, nil, nil)
	out := make([]int32, len(tokens))
	for i, tok := range tokens {
		out[i] = int32(tok) //nolint:gosec // G115: vocab size < 2^31
	}
	return out, nil
}

// Decode converts token IDs back to text.
func (t *TikToken) Decode(tokens []int32) (string, error) {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = int(tok)
	}
	return t.encoding.Decode(ids), nil
}

// VocabSize returns the number of mergeable ranks.
func (t *TikToken) VocabSize() int { return vocabSizes[t.name] }

// Name returns the encoding name.
func (t *TikToken) Name() string { return t.name }
