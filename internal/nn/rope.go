package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/tensor"
)

// DefaultRopeBase is the conventional RoPE frequency base.
const DefaultRopeBase = 10000.0

// RotaryEncoder applies Rotary Position Embedding (RoPE) to per-head vectors.
//
// For position p >= 1 and dimension pair (2i, 2i+1):
//
//	θ_i(p) = p · base^(-2i/d)
//
//	[x'_{2i}  ]   [cos θ  -sin θ] [x_{2i}  ]
//	[x'_{2i+1}] = [sin θ   cos θ] [x_{2i+1}]
//
// Every row carries its own explicit position, so rotating a sequence in one
// call or one position at a time during generation yields identical vectors.
//
// Example:
//
//	rope, err := nn.NewRotaryEncoder(nn.RotaryConfig{NbHeads: 4, HeadDim: 16}, backend)
//	q, err = rope.Forward(q, positions) // q: [batch, seq, 4, 16], positions: [batch][seq]
type RotaryEncoder struct {
	cfg     RotaryConfig
	freqs   []float64 // base^(-2i/d), i in [0, d/2)
	backend tensor.Backend
}

// RotaryConfig configures a RotaryEncoder.
type RotaryConfig struct {
	NbHeads int     // Heads per position
	HeadDim int     // Dimension per head (must be even)
	Base    float64 // Frequency base (default: 10000)
}

// NewRotaryEncoder creates a RotaryEncoder.
//
// Returns ErrDimensionMismatch when HeadDim is odd or not positive.
func NewRotaryEncoder(cfg RotaryConfig, backend tensor.Backend) (*RotaryEncoder, error) {
	if cfg.HeadDim <= 0 || cfg.HeadDim%2 != 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "rope: head dimension must be even and positive, got %d", cfg.HeadDim)
	}
	if cfg.NbHeads <= 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "rope: head count must be positive, got %d", cfg.NbHeads)
	}
	if cfg.Base <= 0 {
		cfg.Base = DefaultRopeBase
	}

	halfDim := cfg.HeadDim / 2
	freqs := make([]float64, halfDim)
	for i := range freqs {
		freqs[i] = math.Pow(cfg.Base, -2*float64(i)/float64(cfg.HeadDim))
	}

	return &RotaryEncoder{cfg: cfg, freqs: freqs, backend: backend}, nil
}

// Frequencies returns the per-pair angular frequencies.
func (r *RotaryEncoder) Frequencies() []float64 {
	return r.freqs
}

// Forward rotates x at the given absolute positions.
//
// x is [batch, seq, heads, headDim] or [batch, seq, heads*headDim]; the
// output has the same shape. positions is [batch][seq].
func (r *RotaryEncoder) Forward(x *tensor.RawTensor, positions [][]int) (*tensor.RawTensor, error) {
	shape := x.Shape()
	x4 := x
	switch len(shape) {
	case 4:
		if shape[2] != r.cfg.NbHeads || shape[3] != r.cfg.HeadDim {
			return nil, errors.Wrapf(ErrDimensionMismatch, "rope: expected [.., .., %d, %d], got %v",
				r.cfg.NbHeads, r.cfg.HeadDim, shape)
		}
	case 3:
		width := shape[2]
		if width%r.cfg.HeadDim != 0 || width/r.cfg.HeadDim != r.cfg.NbHeads {
			return nil, errors.Wrapf(ErrDimensionMismatch, "rope: width %d is not %d heads of %d",
				width, r.cfg.NbHeads, r.cfg.HeadDim)
		}
		var err error
		x4, err = x.Reshape(tensor.Shape{shape[0], shape[1], r.cfg.NbHeads, r.cfg.HeadDim})
		if err != nil {
			return nil, errors.Wrap(ErrDimensionMismatch, err.Error())
		}
	default:
		return nil, errors.Wrapf(ErrDimensionMismatch, "rope: input must be 3D or 4D, got %v", shape)
	}

	if err := checkPositions(positions, shape[0], shape[1]); err != nil {
		return nil, errors.WithMessage(err, "rope")
	}

	out := r.backend.Rotate(x4, positions, r.freqs)
	if len(shape) == 3 {
		return out.Reshape(shape)
	}
	return out, nil
}

// checkPositions validates a [batch][seq] position table.
func checkPositions(positions [][]int, batch, seq int) error {
	if len(positions) != batch {
		return errors.Wrapf(ErrDimensionMismatch, "positions cover %d sequences, tensor has %d", len(positions), batch)
	}
	for b, row := range positions {
		if len(row) != seq {
			return errors.Wrapf(ErrDimensionMismatch, "positions[%d] has %d entries, tensor has %d", b, len(row), seq)
		}
		for _, p := range row {
			if p < 1 {
				return errors.Wrapf(ErrInvalidPosition, "positions[%d] contains %d, positions start at 1", b, p)
			}
		}
	}
	return nil
}
