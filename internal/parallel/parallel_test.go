package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_VisitsEveryIndexOnce(t *testing.T) {
	for _, cfg := range []Config{
		Sequential(),
		{Enabled: true, NumWorkers: 4, MinChunkSize: 1},
		{Enabled: true, NumWorkers: 3, MinChunkSize: 5},
	} {
		counts := make([]int32, 37)
		For(len(counts), func(i int) {
			atomic.AddInt32(&counts[i], 1)
		}, cfg)
		for i, c := range counts {
			assert.Equal(t, int32(1), c, "index %d with %+v", i, cfg)
		}
	}
}

func TestForBatch_Grid(t *testing.T) {
	seen := make([][]int32, 3)
	for b := range seen {
		seen[b] = make([]int32, 4)
	}
	ForBatch(3, 4, func(b, h int) {
		atomic.AddInt32(&seen[b][h], 1)
	}, Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1})

	for b := range seen {
		for h := range seen[b] {
			assert.Equal(t, int32(1), seen[b][h])
		}
	}
}

func TestFor_Empty(t *testing.T) {
	called := false
	For(0, func(int) { called = true }, DefaultConfig())
	assert.False(t, called)
}
