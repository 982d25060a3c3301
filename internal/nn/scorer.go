package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/tensor"
)

// Scorer computes scaled query-key dot products for grouped-query attention.
//
// Query head h reads key head h/group where group = nbHeadsQuery/nbHeadsKey.
// With group == 1 this is plain multi-head attention; with nbHeadsKey == 1 it
// is multi-query attention.
//
//	score[b, i, h, j] = q[b, i, h] · k[b, j, h/group] / sqrt(headDim)
//
// Pairs hidden by the mask hold -Inf.
type Scorer struct {
	nbHeadsQuery int
	nbHeadsKey   int
	headDim      int
	group        int
	scale        float32
	backend      tensor.Backend
}

// NewScorer creates a Scorer.
//
// Returns ErrHeadGroupMismatch when nbHeadsQuery is not a positive multiple
// of nbHeadsKey.
func NewScorer(nbHeadsQuery, nbHeadsKey, headDim int, backend tensor.Backend) (*Scorer, error) {
	if nbHeadsKey <= 0 || nbHeadsQuery <= 0 || nbHeadsQuery%nbHeadsKey != 0 {
		return nil, errors.Wrapf(ErrHeadGroupMismatch, "scorer: %d query heads cannot be grouped over %d key heads",
			nbHeadsQuery, nbHeadsKey)
	}
	if headDim <= 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "scorer: head dimension must be positive, got %d", headDim)
	}
	return &Scorer{
		nbHeadsQuery: nbHeadsQuery,
		nbHeadsKey:   nbHeadsKey,
		headDim:      headDim,
		group:        nbHeadsQuery / nbHeadsKey,
		scale:        float32(1.0 / math.Sqrt(float64(headDim))),
		backend:      backend,
	}, nil
}

// GroupSize returns how many query heads share one key/value head.
func (s *Scorer) GroupSize() int { return s.group }

// GroupOf returns the key/value head read by query head h.
func (s *Scorer) GroupOf(h int) int { return h / s.group }

// Scale returns 1/sqrt(headDim).
func (s *Scorer) Scale() float32 { return s.scale }

// Scores computes the score tensor [batch, seqQ, nbHeadsQuery, seqK].
//
// q is [batch, seqQ, nbHeadsQuery, headDim], k is [batch, seqK, nbHeadsKey,
// headDim]. The mask's position tables must cover both sequences.
func (s *Scorer) Scores(q, k *tensor.RawTensor, mask *tensor.AttentionMask) (*tensor.RawTensor, error) {
	qs, ks := q.Shape(), k.Shape()
	if len(qs) != 4 || len(ks) != 4 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "scorer: q %v and k %v must be 4D", qs, ks)
	}
	if qs[2] != s.nbHeadsQuery || qs[3] != s.headDim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "scorer: q %v, want [.., .., %d, %d]", qs, s.nbHeadsQuery, s.headDim)
	}
	if ks[2] != s.nbHeadsKey || ks[3] != s.headDim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "scorer: k %v, want [.., .., %d, %d]", ks, s.nbHeadsKey, s.headDim)
	}
	if qs[0] != ks[0] {
		return nil, errors.Wrapf(ErrDimensionMismatch, "scorer: batch %d vs %d", qs[0], ks[0])
	}
	if q.Precision() != k.Precision() {
		return nil, errors.Wrapf(ErrPrecisionMismatch, "scorer: q is %s, k is %s", q.Precision(), k.Precision())
	}
	if err := checkMask(mask, qs[0], qs[1], ks[1]); err != nil {
		return nil, errors.WithMessage(err, "scorer")
	}
	return s.backend.Scores(q, k, mask, s.group, s.scale), nil
}

// checkMask validates the mask position tables against tensor extents.
func checkMask(mask *tensor.AttentionMask, batch, seqQ, seqK int) error {
	if mask == nil {
		return errors.Wrap(ErrDimensionMismatch, "mask is nil")
	}
	if len(mask.QueryPos) != batch || len(mask.KeyPos) != batch {
		return errors.Wrapf(ErrDimensionMismatch, "mask covers %d/%d sequences, want %d",
			len(mask.QueryPos), len(mask.KeyPos), batch)
	}
	for b := 0; b < batch; b++ {
		if len(mask.QueryPos[b]) != seqQ {
			return errors.Wrapf(ErrDimensionMismatch, "mask query row %d has %d entries, want %d", b, len(mask.QueryPos[b]), seqQ)
		}
		if len(mask.KeyPos[b]) != seqK {
			return errors.Wrapf(ErrDimensionMismatch, "mask key row %d has %d entries, want %d", b, len(mask.KeyPos[b]), seqK)
		}
		for _, p := range mask.QueryPos[b] {
			if p < 1 {
				return errors.Wrapf(ErrInvalidPosition, "query position %d, positions start at 1", p)
			}
		}
	}
	if mask.Window < 0 {
		return errors.Wrapf(ErrDimensionMismatch, "negative window %d", mask.Window)
	}
	return nil
}

// CausalMask builds the mask of a fresh sequence attending to itself.
func CausalMask(positions [][]int, window int) *tensor.AttentionMask {
	return &tensor.AttentionMask{QueryPos: positions, KeyPos: positions, Window: window}
}
