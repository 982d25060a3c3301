package nn

import (
	"github.com/pkg/errors"
)

// Configuration and usage errors reported by the attention engine. They are
// wrapped with call-site context; match them with errors.Is.
var (
	// ErrDimensionMismatch reports an odd head dimension, a width not divisible
	// by the head count, or tensors whose shapes disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrHeadGroupMismatch reports a query head count that is not a multiple
	// of the key/value head count.
	ErrHeadGroupMismatch = errors.New("head group mismatch")

	// ErrCacheCapacityExceeded reports a write beyond the declared capacity of
	// a non-sliding cache.
	ErrCacheCapacityExceeded = errors.New("cache capacity exceeded")

	// ErrInvalidPosition reports a token position below 1.
	ErrInvalidPosition = errors.New("invalid position")

	// ErrPositionOrder reports a cache write that is not the next position of
	// its sequence.
	ErrPositionOrder = errors.New("cache write out of order")

	// ErrPrecisionMismatch reports tensors of different precisions in one call.
	ErrPrecisionMismatch = errors.New("precision mismatch")

	// ErrCacheReleased reports use of a cache after Release.
	ErrCacheReleased = errors.New("cache released")

	// ErrViewBorrowed reports a write to a debug-mode cache element while a
	// Window view of it has not been released.
	ErrViewBorrowed = errors.New("cache view still borrowed")
)
