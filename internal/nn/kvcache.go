package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/causal/internal/tensor"
)

// KVCacheConfig configures a KVCache.
type KVCacheConfig struct {
	Layers     int              // Transformer layers
	Batch      int              // Independent sequences
	NbHeadsKey int              // Key/value heads
	HeadDim    int              // Dimension per head
	Capacity   int              // Resident positions per sequence (seqMax)
	Sliding    bool             // Overwrite the oldest slot instead of failing when full
	Precision  tensor.Precision // Storage precision
	Debug      bool             // Reject writes to an element while a Window view of it is borrowed
}

// KVCache stores rotated keys and values of past positions for incremental
// decoding.
//
// Each layer owns one key buffer and one value buffer laid out as
// [batch, capacity, nbHeadsKey, headDim]; the region of one batch element is
// its arena. Positions start at 1; position p lives in slot (p-1) mod
// capacity and resident data never moves. A non-sliding cache rejects writes past capacity; a sliding cache
// overwrites the oldest slot.
//
// Lifecycle per (layer, element): Empty -> Filling -> Full. Reset returns an
// element to Empty, Release frees every arena.
//
// Views handed out by Window and Batched borrow the arenas and are valid until
// the next write to the same element. In debug mode a Window view is tracked
// until View.Release, and writes to its element fail with ErrViewBorrowed.
type KVCache struct {
	cfg      KVCacheConfig
	rowWidth int // nbHeadsKey * headDim

	keys   [][]float32 // per layer
	values [][]float32 // per layer
	arenas [][]arena   // [layer][element]

	released bool
}

// arena tracks the slots of one (layer, element).
type arena struct {
	positions  []int // absolute position per slot, -1 if never written
	start      int   // first position written since the last reset, 1 when empty
	written    int   // positions written since the last reset
	generation uint64
	borrows    int // live Window views (debug mode only)
}

func (a *arena) next() int { return a.start + a.written }

// NewKVCache allocates a KVCache.
func NewKVCache(cfg KVCacheConfig) (*KVCache, error) {
	if cfg.Layers <= 0 || cfg.Batch <= 0 || cfg.NbHeadsKey <= 0 || cfg.HeadDim <= 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "kvcache: layers=%d batch=%d heads=%d headDim=%d must be positive",
			cfg.Layers, cfg.Batch, cfg.NbHeadsKey, cfg.HeadDim)
	}
	if cfg.Capacity <= 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "kvcache: capacity must be positive, got %d", cfg.Capacity)
	}

	c := &KVCache{
		cfg:      cfg,
		rowWidth: cfg.NbHeadsKey * cfg.HeadDim,
		keys:     make([][]float32, cfg.Layers),
		values:   make([][]float32, cfg.Layers),
		arenas:   make([][]arena, cfg.Layers),
	}
	size := cfg.Batch * cfg.Capacity * c.rowWidth
	for l := 0; l < cfg.Layers; l++ {
		c.keys[l] = make([]float32, size)
		c.values[l] = make([]float32, size)
		c.arenas[l] = make([]arena, cfg.Batch)
		for b := range c.arenas[l] {
			c.arenas[l][b].positions = make([]int, cfg.Capacity)
			c.arenas[l][b].clear()
		}
	}
	return c, nil
}

func (a *arena) clear() {
	for i := range a.positions {
		a.positions[i] = -1
	}
	a.start = 1
	a.written = 0
	a.generation++
}

// Config returns the cache configuration.
func (c *KVCache) Config() KVCacheConfig { return c.cfg }

// Capacity returns the resident positions per sequence.
func (c *KVCache) Capacity() int { return c.cfg.Capacity }

// Sliding reports whether the cache overwrites its oldest slot when full.
func (c *KVCache) Sliding() bool { return c.cfg.Sliding }

// Released reports whether Release was called.
func (c *KVCache) Released() bool { return c.released }

func (c *KVCache) check(layer, elem int) error {
	if c.released {
		return ErrCacheReleased
	}
	if layer < 0 || layer >= c.cfg.Layers {
		return errors.Wrapf(ErrDimensionMismatch, "kvcache: layer %d out of range [0, %d)", layer, c.cfg.Layers)
	}
	if elem < 0 || elem >= c.cfg.Batch {
		return errors.Wrapf(ErrDimensionMismatch, "kvcache: element %d out of range [0, %d)", elem, c.cfg.Batch)
	}
	return nil
}

// writable rejects writes to an element with a live borrowed view.
func (c *KVCache) writable(layer, elem int) error {
	if n := c.arenas[layer][elem].borrows; n > 0 {
		return errors.Wrapf(ErrViewBorrowed, "kvcache: layer %d element %d has %d live views", layer, elem, n)
	}
	return nil
}

// Writable reports ErrViewBorrowed when a debug-mode Window view of elem is
// still borrowed in any layer.
func (c *KVCache) Writable(elem int) error {
	if err := c.check(0, elem); err != nil {
		return err
	}
	for l := 0; l < c.cfg.Layers; l++ {
		if err := c.writable(l, elem); err != nil {
			return err
		}
	}
	return nil
}

// slot returns the slot holding position.
func (c *KVCache) slot(position int) int {
	return (position - 1) % c.cfg.Capacity
}

// region returns the arena offset of slot of elem.
func (c *KVCache) region(elem, slot int) int {
	return (elem*c.cfg.Capacity + slot) * c.rowWidth
}

// Append writes the key and value rows of one position. key and value hold
// nbHeadsKey*headDim floats.
//
// position must be the next position of the sequence; the first write after
// creation or Reset may start at any position >= 1.
func (c *KVCache) Append(layer, elem, position int, key, value []float32) error {
	if err := c.check(layer, elem); err != nil {
		return err
	}
	if len(key) != c.rowWidth || len(value) != c.rowWidth {
		return errors.Wrapf(ErrDimensionMismatch, "kvcache: key/value rows have %d/%d floats, want %d",
			len(key), len(value), c.rowWidth)
	}
	if position < 1 {
		return errors.Wrapf(ErrInvalidPosition, "kvcache: position %d, positions start at 1", position)
	}
	if err := c.writable(layer, elem); err != nil {
		return err
	}

	a := &c.arenas[layer][elem]
	if a.written == 0 {
		a.start = position
	} else if position != a.next() {
		return errors.Wrapf(ErrPositionOrder, "kvcache: layer %d element %d expects position %d, got %d",
			layer, elem, a.next(), position)
	}
	if !c.cfg.Sliding && a.written >= c.cfg.Capacity {
		return errors.Wrapf(ErrCacheCapacityExceeded, "kvcache: layer %d element %d is full at %d positions",
			layer, elem, c.cfg.Capacity)
	}

	slot := c.slot(position)
	off := c.region(elem, slot)
	kdst := c.keys[layer][off : off+c.rowWidth]
	vdst := c.values[layer][off : off+c.rowWidth]
	copy(kdst, key)
	copy(vdst, value)
	c.cfg.Precision.RoundSlice(kdst)
	c.cfg.Precision.RoundSlice(vdst)

	a.positions[slot] = position
	a.written++
	a.generation++
	return nil
}

// Prime bulk-writes a prefix for every element of one layer, replacing what
// the layer held. keys and values are [batch, n, nbHeadsKey, headDim],
// positions is [batch][n] with consecutive positions per element.
//
// In sliding mode a prefix longer than the capacity leaves its last capacity
// positions resident.
func (c *KVCache) Prime(layer int, keys, values *tensor.RawTensor, positions [][]int) error {
	if err := c.check(layer, 0); err != nil {
		return err
	}
	ks := keys.Shape()
	want := tensor.Shape{c.cfg.Batch, 0, c.cfg.NbHeadsKey, c.cfg.HeadDim}
	if len(ks) != 4 || ks[0] != want[0] || ks[2] != want[2] || ks[3] != want[3] || !ks.Equal(values.Shape()) {
		return errors.Wrapf(ErrDimensionMismatch, "kvcache: prime keys %v values %v, want [%d, n, %d, %d]",
			ks, values.Shape(), want[0], want[2], want[3])
	}
	if keys.Precision() != c.cfg.Precision || values.Precision() != c.cfg.Precision {
		return errors.Wrapf(ErrPrecisionMismatch, "kvcache: prime with %s/%s into %s cache",
			keys.Precision(), values.Precision(), c.cfg.Precision)
	}
	n := ks[1]
	if !c.cfg.Sliding && n > c.cfg.Capacity {
		return errors.Wrapf(ErrCacheCapacityExceeded, "kvcache: prefix of %d positions exceeds capacity %d", n, c.cfg.Capacity)
	}
	if err := checkPositions(positions, c.cfg.Batch, n); err != nil {
		return errors.WithMessage(err, "kvcache: prime")
	}
	for b, row := range positions {
		for i := 1; i < len(row); i++ {
			if row[i] != row[i-1]+1 {
				return errors.Wrapf(ErrPositionOrder, "kvcache: prime element %d jumps from %d to %d", b, row[i-1], row[i])
			}
		}
	}

	for b := 0; b < c.cfg.Batch; b++ {
		if err := c.writable(layer, b); err != nil {
			return err
		}
	}

	for b := 0; b < c.cfg.Batch; b++ {
		c.resetLayer(layer, b)
		for i := 0; i < n; i++ {
			if err := c.Append(layer, b, positions[b][i], keys.Row(b, i), values.Row(b, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// View is a borrowed window over the arena of one (layer, element).
//
// Keys and Values span the full capacity, [capacity, nbHeadsKey, headDim];
// Valid marks slots that hold a position. The view is stale after the next
// write to the element. Views of a debug cache must be released.
type View struct {
	Keys      []float32
	Values    []float32
	Positions []int
	Valid     []bool
	Seq       int // positions written since the last reset
	Capacity  int

	arena      *arena
	generation uint64
	borrowed   bool
}

// Resident returns how many slots hold data.
func (v View) Resident() int { return min(v.Seq, v.Capacity) }

// Stale reports whether the arena was written after the view was taken.
func (v View) Stale() bool {
	return v.arena == nil || v.arena.generation != v.generation
}

// Release ends the borrow of a debug-mode view. It is a no-op otherwise and
// when called twice.
func (v *View) Release() {
	if v.borrowed {
		v.arena.borrows--
		v.borrowed = false
	}
}

// Window returns a borrowed view of one (layer, element).
func (c *KVCache) Window(layer, elem int) (View, error) {
	if err := c.check(layer, elem); err != nil {
		return View{}, err
	}
	a := &c.arenas[layer][elem]
	lo := c.region(elem, 0)
	hi := c.region(elem+1, 0)
	valid := make([]bool, c.cfg.Capacity)
	for i, p := range a.positions {
		valid[i] = p >= 1
	}
	if c.cfg.Debug {
		a.borrows++
	}
	return View{
		Keys:       c.keys[layer][lo:hi:hi],
		Values:     c.values[layer][lo:hi:hi],
		Positions:  a.positions,
		Valid:      valid,
		Seq:        a.written,
		Capacity:   c.cfg.Capacity,
		arena:      a,
		generation: a.generation,
		borrowed:   c.cfg.Debug,
	}, nil
}

// Batched returns borrowed [batch, capacity, nbHeadsKey, headDim] key and
// value tensors of one layer plus the per-slot positions of every element,
// ready to be used as the key side of an AttentionMask.
func (c *KVCache) Batched(layer int) (keys, values *tensor.RawTensor, keyPos [][]int, err error) {
	if err := c.check(layer, 0); err != nil {
		return nil, nil, nil, err
	}
	shape := tensor.Shape{c.cfg.Batch, c.cfg.Capacity, c.cfg.NbHeadsKey, c.cfg.HeadDim}
	keys, err = tensor.View(c.keys[layer], shape, c.cfg.Precision, tensor.CPU)
	if err != nil {
		return nil, nil, nil, errors.Wrap(ErrDimensionMismatch, err.Error())
	}
	values, err = tensor.View(c.values[layer], shape, c.cfg.Precision, tensor.CPU)
	if err != nil {
		return nil, nil, nil, errors.Wrap(ErrDimensionMismatch, err.Error())
	}
	keyPos = make([][]int, c.cfg.Batch)
	for b := range keyPos {
		keyPos[b] = c.arenas[layer][b].positions
	}
	return keys, values, keyPos, nil
}

// Generation returns the write counter of one (layer, element), 0 for an
// out-of-range index or a released cache.
func (c *KVCache) Generation(layer, elem int) uint64 {
	if c.check(layer, elem) != nil {
		return 0
	}
	return c.arenas[layer][elem].generation
}

// LayerSeq returns how many positions one layer holds for elem since the
// last reset, 0 for an out-of-range index or a released cache.
func (c *KVCache) LayerSeq(layer, elem int) int {
	if c.check(layer, elem) != nil {
		return 0
	}
	return c.arenas[layer][elem].written
}

// Seq returns how many positions every layer has written for elem. Layers
// are written in order within a step, so this is the minimum over layers.
// It is 0 for an out-of-range element or a released cache.
func (c *KVCache) Seq(elem int) int {
	if c.check(0, elem) != nil {
		return 0
	}
	seq := c.arenas[0][elem].written
	for l := 1; l < c.cfg.Layers; l++ {
		seq = min(seq, c.arenas[l][elem].written)
	}
	return seq
}

// NextPosition returns the position the next Append to elem must use: 1
// for an empty element, 0 for an out-of-range element or a released cache.
func (c *KVCache) NextPosition(elem int) int {
	if c.check(0, elem) != nil {
		return 0
	}
	next := c.arenas[0][elem].next()
	for l := 1; l < c.cfg.Layers; l++ {
		next = min(next, c.arenas[l][elem].next())
	}
	return next
}

// Resident returns how many slots of elem hold data.
func (c *KVCache) Resident(elem int) int {
	return min(c.Seq(elem), c.cfg.Capacity)
}

// Age returns how many positions ago slot was written, 0 for the newest
// position and -1 for an empty slot.
func (c *KVCache) Age(layer, elem, slot int) int {
	if c.check(layer, elem) != nil {
		return -1
	}
	a := &c.arenas[layer][elem]
	if slot < 0 || slot >= c.cfg.Capacity || a.positions[slot] < 0 {
		return -1
	}
	return a.next() - 1 - a.positions[slot]
}

// Reset empties every layer of elem. Other elements are untouched.
func (c *KVCache) Reset(elem int) error {
	if err := c.check(0, elem); err != nil {
		return err
	}
	if err := c.Writable(elem); err != nil {
		return err
	}
	for l := 0; l < c.cfg.Layers; l++ {
		c.resetLayer(l, elem)
	}
	return nil
}

func (c *KVCache) resetLayer(layer, elem int) {
	lo, hi := c.region(elem, 0), c.region(elem+1, 0)
	clear(c.keys[layer][lo:hi])
	clear(c.values[layer][lo:hi])
	c.arenas[layer][elem].clear()
}

// Release frees every arena. The cache is unusable afterwards.
func (c *KVCache) Release() {
	for l := range c.arenas {
		for b := range c.arenas[l] {
			c.arenas[l][b].generation++
		}
	}
	c.keys = nil
	c.values = nil
	c.arenas = nil
	c.released = true
}

// Bytes returns the storage footprint of the arenas at the cache precision.
func (c *KVCache) Bytes() int64 {
	if c.released {
		return 0
	}
	perLayer := int64(2 * c.cfg.Batch * c.cfg.Capacity * c.rowWidth * c.cfg.Precision.ElementSize())
	return perLayer * int64(c.cfg.Layers)
}
