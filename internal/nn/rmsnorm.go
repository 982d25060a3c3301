package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/tensor"
)

// RMSNorm applies Root Mean Square Normalization along the last dimension.
//
// Formula: Y = X / sqrt(mean(X^2) + eps) * gamma
//
// Example:
//
//	norm := nn.NewRMSNorm(64, 1e-5)
//	output, err := norm.Forward(hidden) // [..., 64] -> [..., 64]
type RMSNorm struct {
	Gamma   *tensor.RawTensor // scale [d_model]
	Epsilon float32           // numerical stability constant
}

// NewRMSNorm creates an RMSNorm layer with gamma initialized to ones.
func NewRMSNorm(dModel int, epsilon float32) *RMSNorm {
	return &RMSNorm{
		Gamma:   Ones(tensor.Shape{dModel}),
		Epsilon: epsilon,
	}
}

// Forward normalizes every row of x.
func (n *RMSNorm) Forward(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := x.Shape()
	dModel := n.Gamma.NumElements()
	if len(shape) == 0 || shape[len(shape)-1] != dModel {
		return nil, errors.Wrapf(ErrDimensionMismatch, "rmsnorm: input %v, want last dimension %d", shape, dModel)
	}

	out := x.Clone()
	data, gamma := out.Data(), n.Gamma.Data()
	for off := 0; off < len(data); off += dModel {
		row := data[off : off+dModel]
		var sumSq float64
		for _, v := range row {
			sumSq += float64(v) * float64(v)
		}
		inv := float32(1 / math.Sqrt(sumSq/float64(dModel)+float64(n.Epsilon)))
		for i := range row {
			row[i] = row[i] * inv * gamma[i]
		}
	}
	return out.Round(), nil
}
