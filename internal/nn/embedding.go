package nn

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/tensor"
)

// ErrInvalidToken reports a token id outside the embedding table.
var ErrInvalidToken = errors.New("invalid token")

// Embedding is a lookup table that maps token ids to dense vectors.
//
// Architecture:
//   - Weight: [NumEmbed, EmbedDim]
//   - Forward: ids [batch][seq] -> embeddings [batch, seq, EmbedDim]
//
// Example:
//
//	embed := nn.NewEmbedding(256, 64, rng)
//	h, err := embed.Forward([][]int32{{1, 2, 3}, {4, 5, 6}}, tensor.Float32) // [2, 3, 64]
type Embedding struct {
	Weight   *tensor.RawTensor // [NumEmbed, EmbedDim]
	NumEmbed int               // Vocabulary size
	EmbedDim int               // Vector size
}

// NewEmbedding creates an Embedding with weights drawn from N(0, 1) by rng.
func NewEmbedding(numEmbeddings, embeddingDim int, rng *rand.Rand) *Embedding {
	return &Embedding{
		Weight:   tensor.Randn(tensor.Shape{numEmbeddings, embeddingDim}, tensor.Float32, rng),
		NumEmbed: numEmbeddings,
		EmbedDim: embeddingDim,
	}
}

// Forward gathers the rows of ids. Every row of ids must have the same length.
func (e *Embedding) Forward(ids [][]int32, precision tensor.Precision) (*tensor.RawTensor, error) {
	batch := len(ids)
	if batch == 0 {
		return nil, errors.Wrap(ErrDimensionMismatch, "embedding: empty batch")
	}
	seq := len(ids[0])
	out := tensor.Zeros(tensor.Shape{batch, seq, e.EmbedDim}, precision)
	for b, row := range ids {
		if len(row) != seq {
			return nil, errors.Wrapf(ErrDimensionMismatch, "embedding: row %d has %d tokens, want %d", b, len(row), seq)
		}
		for s, id := range row {
			if id < 0 || int(id) >= e.NumEmbed {
				return nil, errors.Wrapf(ErrInvalidToken, "embedding: token %d outside vocabulary of %d", id, e.NumEmbed)
			}
			copy(out.Row(b, s), e.Weight.Row(int(id)))
		}
	}
	return out.Round(), nil
}
