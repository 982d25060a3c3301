package nn

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/causal/internal/parallel"
	"github.com/born-ml/causal/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [..., in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [..., out_features]
//
// Each output row depends only on its input row and is summed in a fixed
// order, so projecting a whole sequence or one position at a time gives the
// same values.
//
// Example:
//
//	layer := nn.NewLinear(64, 128, rng)
//	output, err := layer.Forward(input) // [2, 5, 64] -> [2, 5, 128]
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *tensor.RawTensor // [out_features, in_features]
	bias        *tensor.RawTensor // [out_features]
	parallel    parallel.Config
}

// NewLinear creates a Linear layer with Xavier weights and zero bias.
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, rng),
		bias:        tensor.Zeros(tensor.Shape{outFeatures}, tensor.Float32),
		parallel:    parallel.Sequential(),
	}
}

// WithParallel makes Forward fan rows out according to cfg and returns l.
func (l *Linear) WithParallel(cfg parallel.Config) *Linear {
	l.parallel = cfg
	return l
}

// InFeatures returns the input width.
func (l *Linear) InFeatures() int { return l.inFeatures }

// OutFeatures returns the output width.
func (l *Linear) OutFeatures() int { return l.outFeatures }

// Weight returns the [out_features, in_features] weight matrix.
func (l *Linear) Weight() *tensor.RawTensor { return l.weight }

// Bias returns the [out_features] bias vector.
func (l *Linear) Bias() *tensor.RawTensor { return l.bias }

// Forward projects the last dimension of x. The output keeps x's precision.
func (l *Linear) Forward(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := x.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != l.inFeatures {
		return nil, errors.Wrapf(ErrDimensionMismatch, "linear: input %v, want last dimension %d", shape, l.inFeatures)
	}

	outShape := shape.Clone()
	outShape[len(outShape)-1] = l.outFeatures
	out, err := tensor.NewRaw(outShape, x.Precision(), x.Device())
	if err != nil {
		return nil, errors.Wrap(ErrDimensionMismatch, err.Error())
	}

	rows := x.NumElements() / l.inFeatures
	src, dst := x.Data(), out.Data()
	w, bias := l.weight.Data(), l.bias.Data()
	parallel.For(rows, func(r int) {
		in := blas32.Vector{N: l.inFeatures, Inc: 1, Data: src[r*l.inFeatures : (r+1)*l.inFeatures]}
		row := dst[r*l.outFeatures : (r+1)*l.outFeatures]
		for o := range row {
			wv := blas32.Vector{N: l.inFeatures, Inc: 1, Data: w[o*l.inFeatures : (o+1)*l.inFeatures]}
			row[o] = blas32.Dot(in, wv) + bias[o]
		}
	}, l.parallel)

	return out.Round(), nil
}
