package generate

import (
	"math"
	"math/rand"
	"slices"

	"github.com/born-ml/causal/internal/tensor"
)

// SamplingConfig configures how the next token is picked from logits.
type SamplingConfig struct {
	// Temperature controls randomness. 0 = greedy, 1 = unchanged logits.
	Temperature float32

	// TopK keeps the K most likely tokens. 0 = disabled.
	TopK int

	// TopP keeps the smallest set of tokens whose mass exceeds P. 1.0 = disabled.
	TopP float32

	// RepeatPenalty divides positive (multiplies negative) logits of tokens
	// seen in the last RepeatWindow tokens. 1.0 = no penalty.
	RepeatPenalty float32
	RepeatWindow  int

	// Seed for reproducibility. -1 = random.
	Seed int64
}

// GreedySampling returns a configuration that always picks the arg-max.
func GreedySampling() SamplingConfig {
	return SamplingConfig{Temperature: 0, TopP: 1, RepeatPenalty: 1, Seed: 0}
}

// DefaultSamplingConfig returns the defaults for free-running generation.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Temperature:   1.0,
		TopP:          1.0,
		RepeatPenalty: 1.0,
		RepeatWindow:  64,
		Seed:          -1,
	}
}

// Sampler picks tokens from logits. It is not safe for concurrent use.
type Sampler struct {
	config SamplingConfig
	rng    *rand.Rand
}

// NewSampler creates a Sampler.
func NewSampler(config SamplingConfig) *Sampler {
	seed := config.Seed
	if seed < 0 {
		seed = rand.Int63()
	}
	return &Sampler{config: config, rng: rand.New(rand.NewSource(seed))}
}

// Config returns the sampling configuration.
func (s *Sampler) Config() SamplingConfig { return s.config }

// SampleBatch picks one token per batch element from the last position of
// logits [batch, seq, vocab]. history holds the tokens seen so far per
// element and may be nil.
func (s *Sampler) SampleBatch(logits *tensor.RawTensor, history [][]int32) []int32 {
	shape := logits.Shape()
	batch, last := shape[0], shape[1]-1
	out := make([]int32, batch)
	for b := range out {
		var prev []int32
		if b < len(history) {
			prev = history[b]
		}
		out[b] = s.Sample(logits.Row(b, last), prev)
	}
	return out
}

// Sample picks the next token from one logits row.
//
// Order: repetition penalty, temperature, top-k, top-p, then a draw from
// the remaining distribution (arg-max when temperature is 0).
func (s *Sampler) Sample(logits []float32, previous []int32) int32 {
	logits = slices.Clone(logits)

	if s.config.RepeatPenalty != 0 && s.config.RepeatPenalty != 1 && len(previous) > 0 {
		s.penalize(logits, previous)
	}
	if s.config.Temperature == 0 {
		return argmax(logits)
	}
	if s.config.Temperature != 1 {
		for i := range logits {
			logits[i] /= s.config.Temperature
		}
	}
	if s.config.TopK > 0 && s.config.TopK < len(logits) {
		s.keepTopK(logits)
	}
	if s.config.TopP > 0 && s.config.TopP < 1 {
		s.keepTopP(logits)
	}
	return s.draw(softmax(logits))
}

func (s *Sampler) penalize(logits []float32, previous []int32) {
	recent := previous
	if w := s.config.RepeatWindow; w > 0 && len(recent) > w {
		recent = recent[len(recent)-w:]
	}
	seen := make(map[int32]struct{}, len(recent))
	for _, tok := range recent {
		if _, ok := seen[tok]; ok || int(tok) >= len(logits) || tok < 0 {
			continue
		}
		seen[tok] = struct{}{}
		if logits[tok] > 0 {
			logits[tok] /= s.config.RepeatPenalty
		} else {
			logits[tok] *= s.config.RepeatPenalty
		}
	}
}

func (s *Sampler) keepTopK(logits []float32) {
	sorted := slices.Clone(logits)
	slices.SortFunc(sorted, func(a, b float32) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})
	threshold := sorted[s.config.TopK-1]
	for i, v := range logits {
		if v < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}
}

func (s *Sampler) keepTopP(logits []float32) {
	probs := softmax(logits)
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case probs[a] > probs[b]:
			return -1
		case probs[a] < probs[b]:
			return 1
		}
		return 0
	})

	var mass float32
	keep := len(order)
	for i, idx := range order {
		mass += probs[idx]
		if mass > s.config.TopP {
			keep = i + 1
			break
		}
	}
	for _, idx := range order[keep:] {
		logits[idx] = float32(math.Inf(-1))
	}
}

// draw samples from a categorical distribution.
func (s *Sampler) draw(probs []float32) int32 {
	r := s.rng.Float32()
	var cum float32
	for i, p := range probs {
		cum += p
		if r < cum {
			return int32(i)
		}
	}
	// Rounding left r above the total mass.
	for i := len(probs) - 1; i >= 0; i-- {
		if probs[i] > 0 {
			return int32(i)
		}
	}
	return int32(len(probs) - 1)
}

func argmax(logits []float32) int32 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int32(best)
}

// softmax converts logits to probabilities; -Inf logits get probability 0.
func softmax(logits []float32) []float32 {
	maxVal := float32(math.Inf(-1))
	for _, v := range logits {
		maxVal = max(maxVal, v)
	}
	probs := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		if math.IsInf(float64(v), -1) {
			continue
		}
		probs[i] = float32(math.Exp(float64(v - maxVal)))
		sum += probs[i]
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}
	return probs
}
