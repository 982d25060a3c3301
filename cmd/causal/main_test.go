package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "causal "+version+"\n", out)
}

func TestEnv(t *testing.T) {
	t.Setenv("BORN_SEQ_MAX", "64")
	out, err := run(t, "env")
	require.NoError(t, err)
	for _, name := range []string{"BORN_BACKEND", "BORN_PRECISION", "BORN_SEQ_MAX", "BORN_SLIDING", "BORN_NUM_WORKERS", "BORN_DEBUG"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "64")
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "fixed", args: []string{"--capacity", "8", "-n", "8"}},
		{name: "sliding", args: []string{"--sliding", "--capacity", "5", "-n", "10"}},
		{name: "parallel", args: []string{"--backend", "parallel", "--workers", "3", "--capacity", "6", "-n", "6"}},
		{name: "float16", args: []string{"--precision", "f16", "--capacity", "6", "-n", "6"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"verify", "--layers", "1"}, tt.args...)...)
			require.NoError(t, err, out)
			assert.NotContains(t, out, "MISMATCH")
			assert.Contains(t, out, "exact")
			if tt.name == "sliding" {
				assert.Contains(t, out, "wrapped")
			}
		})
	}
}

func TestVerify_CapacityExceeded(t *testing.T) {
	out, err := run(t, "verify", "--capacity", "4", "-n", "5")
	require.Error(t, err)
	assert.Contains(t, out, "exceed capacity")
}

func TestVerify_UnknownBackend(t *testing.T) {
	_, err := run(t, "verify", "--backend", "tpu", "-n", "2")
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	out, err := run(t, "generate", "-q", "--steps", "4", "--temperature", "0", "--capacity", "32", "hello")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], `"`))

	again, err := run(t, "generate", "-q", "--steps", "4", "--temperature", "0", "--capacity", "32", "hello")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	_, err := run(t, "generate", "-q", "")
	require.Error(t, err)
}
