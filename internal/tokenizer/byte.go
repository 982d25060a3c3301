package tokenizer

import (
	"strconv"

	"github.com/pkg/errors"
)

// Byte maps every UTF-8 byte of the text to its own token.
type Byte struct{}

// Encode converts text to token IDs.
func (Byte) Encode(text string) ([]int32, error) {
	out := make([]int32, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int32(text[i])
	}
	return out, nil
}

// Decode converts token IDs back to text.
func (Byte) Decode(tokens []int32) (string, error) {
	buf := make([]byte, len(tokens))
	for i, tok := range tokens {
		if tok < 0 || tok > 255 {
			return "", errors.Errorf("byte tokenizer: token %d out of range", tok)
		}
		buf[i] = byte(tok)
	}
	return string(buf), nil
}

// VocabSize returns 256.
func (Byte) VocabSize() int { return 256 }

// Name returns "byte".
func (Byte) Name() string { return "byte" }

// Folded maps the ids of a larger tokenizer into [0, vocab).
type Folded struct {
	inner Tokenizer
	vocab int
}

// Fold wraps inner so every id is reduced modulo vocab. Decoding reads ids
// in the inner vocabulary, which is lossy for ids that were folded.
func Fold(inner Tokenizer, vocab int) *Folded {
	return &Folded{inner: inner, vocab: vocab}
}

// Encode converts text to folded token IDs.
func (f *Folded) Encode(text string) ([]int32, error) {
	ids, err := f.inner.Encode(text)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		ids[i] = id % int32(f.vocab) //nolint:gosec // vocab is a model vocabulary size
	}
	return ids, nil
}

// Decode converts folded IDs back to text through the inner tokenizer.
func (f *Folded) Decode(tokens []int32) (string, error) {
	return f.inner.Decode(tokens)
}

// VocabSize returns the folded vocabulary size.
func (f *Folded) VocabSize() int { return f.vocab }

// Name returns the inner name with the folded size.
func (f *Folded) Name() string { return f.inner.Name() + "%" + strconv.Itoa(f.vocab) }
