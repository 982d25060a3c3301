package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/tensor"
)

// Aggregator computes the probability-weighted sum of value vectors.
//
//	out[b, i, h] = Σ_j probs[b, i, h, j] · v[b, j, h/group]
//
// Zero-probability slots are skipped, so their contents never reach the
// output even when they hold non-finite garbage.
type Aggregator struct {
	nbHeadsQuery int
	nbHeadsKey   int
	headDim      int
	group        int
	backend      tensor.Backend
}

// NewAggregator creates an Aggregator with the same grouping rule as Scorer.
func NewAggregator(nbHeadsQuery, nbHeadsKey, headDim int, backend tensor.Backend) (*Aggregator, error) {
	if nbHeadsKey <= 0 || nbHeadsQuery <= 0 || nbHeadsQuery%nbHeadsKey != 0 {
		return nil, errors.Wrapf(ErrHeadGroupMismatch, "aggregator: %d query heads cannot be grouped over %d value heads",
			nbHeadsQuery, nbHeadsKey)
	}
	if headDim <= 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "aggregator: head dimension must be positive, got %d", headDim)
	}
	return &Aggregator{
		nbHeadsQuery: nbHeadsQuery,
		nbHeadsKey:   nbHeadsKey,
		headDim:      headDim,
		group:        nbHeadsQuery / nbHeadsKey,
		backend:      backend,
	}, nil
}

// Aggregate returns [batch, seqQ, nbHeadsQuery, headDim].
//
// probs is [batch, seqQ, nbHeadsQuery, seqK], v is [batch, seqK, nbHeadsKey,
// headDim].
func (a *Aggregator) Aggregate(probs, v *tensor.RawTensor) (*tensor.RawTensor, error) {
	ps, vs := probs.Shape(), v.Shape()
	if len(ps) != 4 || len(vs) != 4 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "aggregator: probs %v and v %v must be 4D", ps, vs)
	}
	if ps[0] != vs[0] || ps[3] != vs[1] {
		return nil, errors.Wrapf(ErrDimensionMismatch, "aggregator: probs %v incompatible with v %v", ps, vs)
	}
	if ps[2] != a.nbHeadsQuery || vs[2] != a.nbHeadsKey || vs[3] != a.headDim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "aggregator: probs %v, v %v, want %d query heads over %d value heads of %d",
			ps, vs, a.nbHeadsQuery, a.nbHeadsKey, a.headDim)
	}
	if probs.Precision() != v.Precision() {
		return nil, errors.Wrapf(ErrPrecisionMismatch, "aggregator: probs is %s, v is %s", probs.Precision(), v.Precision())
	}
	return a.backend.Aggregate(probs, v, a.group), nil
}
