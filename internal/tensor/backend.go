package tensor

// Backend defines the attention kernels every compute backend implements.
// Backends receive already validated inputs; shape errors are reported by the
// nn layer before a kernel is invoked.
//
// Layouts:
//   - per-position tensors: [batch, positions, heads, headDim]
//   - scores/probabilities: [batch, queryPositions, nbHeadsQuery, keyPositions]
//
// Implementations:
//   - CPU: pure Go, optionally fanned out over goroutines
//   - WebGPU: WGSL compute shaders (windows)
type Backend interface {
	// Rotate applies rotary position encoding to x. positions is [batch][seq];
	// freqs holds base^(-2i/d) for every pair i < headDim/2.
	Rotate(x *RawTensor, positions [][]int, freqs []float64) *RawTensor

	// Scores computes scale*dot(q, k) for every visible (query, key) pair of
	// every query head, reading key head h/group. Invisible pairs hold -Inf.
	Scores(q, k *RawTensor, mask *AttentionMask, group int, scale float32) *RawTensor

	// Softmax normalizes scores along the key axis over visible entries only.
	// Rows with no visible entry are all-zero.
	Softmax(scores *RawTensor, mask *AttentionMask) *RawTensor

	// Aggregate computes the probability-weighted sum of value vectors,
	// reading value head h/group for query head h.
	Aggregate(probs, v *RawTensor, group int) *RawTensor

	// Metadata
	Name() string
	Device() Device
}

// AttentionMask describes which key slots each query may attend to.
//
// Key j is visible to query i of batch element b iff
//
//	kp >= 1 && kp <= qp && (Window == 0 || qp-kp < Window)
//
// where qp = QueryPos[b][i] and kp = KeyPos[b][j]. Positions start at 1; a
// key position below 1 marks a never-written cache slot.
type AttentionMask struct {
	QueryPos [][]int
	KeyPos   [][]int
	Window   int
}

// Visible reports whether key j is visible to query i of batch element b.
func (m *AttentionMask) Visible(b, i, j int) bool {
	qp := m.QueryPos[b][i]
	kp := m.KeyPos[b][j]
	if kp < 1 || kp > qp {
		return false
	}
	return m.Window == 0 || qp-kp < m.Window
}

// VisibleCount returns how many keys query i of batch element b can see.
func (m *AttentionMask) VisibleCount(b, i int) int {
	n := 0
	for j := range m.KeyPos[b] {
		if m.Visible(b, i, j) {
			n++
		}
	}
	return n
}
