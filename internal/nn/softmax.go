package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/tensor"
)

// CausalSoftmax normalizes attention scores along the key axis, considering
// only keys the mask makes visible. Hidden entries get probability 0 and a
// query with no visible key gets an all-zero row.
//
// The maximum visible score is subtracted before exponentiation, so large
// scores never overflow.
type CausalSoftmax struct {
	backend tensor.Backend
}

// NewCausalSoftmax creates a CausalSoftmax.
func NewCausalSoftmax(backend tensor.Backend) *CausalSoftmax {
	return &CausalSoftmax{backend: backend}
}

// Forward returns probabilities with the same shape as scores,
// [batch, seqQ, heads, seqK].
func (s *CausalSoftmax) Forward(scores *tensor.RawTensor, mask *tensor.AttentionMask) (*tensor.RawTensor, error) {
	shape := scores.Shape()
	if len(shape) != 4 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "softmax: scores must be 4D, got %v", shape)
	}
	if err := checkMask(mask, shape[0], shape[1], shape[3]); err != nil {
		return nil, errors.WithMessage(err, "softmax")
	}
	return s.backend.Softmax(scores, mask), nil
}
