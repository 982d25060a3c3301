//go:build !windows

package webgpu

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestNew_Unavailable(t *testing.T) {
	b, err := New()
	assert.Nil(t, b)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, IsAvailable())
}
