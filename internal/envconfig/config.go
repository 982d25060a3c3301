// Package envconfig reads the BORN_* environment variables that tune the
// attention engine. Getters re-read the environment on every call; invalid
// values are logged and replaced by the default.
package envconfig

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/born-ml/causal/internal/tensor"
)

// Var returns an environment variable stripped of surrounding quotes and
// spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// BoolWithDefault returns a getter for a boolean variable.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a getter for a boolean variable defaulting to false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// Uint returns a getter for an unsigned variable.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				klog.Warningf("invalid environment variable %s=%q, using default %d", key, s, defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

var (
	// Debug rejects cache writes while a Window view is borrowed and enables
	// verbose logging.
	Debug = Bool("BORN_DEBUG")
	// Sliding turns on sliding-window KV caches.
	Sliding = Bool("BORN_SLIDING")
	// SeqMax is the KV cache capacity per sequence.
	SeqMax = Uint("BORN_SEQ_MAX", 512)
)

// Backend names the compute backend: cpu, parallel or webgpu. Default: cpu.
func Backend() string {
	s := strings.ToLower(Var("BORN_BACKEND"))
	switch s {
	case "":
		return "cpu"
	case "cpu", "parallel", "webgpu":
		return s
	default:
		klog.Warningf("invalid environment variable BORN_BACKEND=%q, using default cpu", s)
		return "cpu"
	}
}

// Precision is the session precision. Default: float32.
func Precision() tensor.Precision {
	s := Var("BORN_PRECISION")
	p, err := tensor.ParsePrecision(s)
	if err != nil {
		klog.Warningf("invalid environment variable BORN_PRECISION=%q, using default %s", s, tensor.Float32)
		return tensor.Float32
	}
	return p
}

// NumWorkers is the goroutine count of the parallel CPU backend.
// Default: runtime.NumCPU().
func NumWorkers() int {
	n := Uint("BORN_NUM_WORKERS", 0)()
	if n == 0 {
		return runtime.NumCPU()
	}
	return int(n)
}

// EnvVar describes one variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BORN_BACKEND":     {"BORN_BACKEND", Backend(), "Compute backend: cpu, parallel or webgpu (default: cpu)"},
		"BORN_PRECISION":   {"BORN_PRECISION", Precision(), "Session precision: f32 or f16 (default: f32)"},
		"BORN_SEQ_MAX":     {"BORN_SEQ_MAX", SeqMax(), "KV cache capacity per sequence (default: 512)"},
		"BORN_SLIDING":     {"BORN_SLIDING", Sliding(), "Overwrite the oldest cache slot instead of failing when full"},
		"BORN_NUM_WORKERS": {"BORN_NUM_WORKERS", NumWorkers(), "Goroutines of the parallel CPU backend (default: NumCPU)"},
		"BORN_DEBUG":       {"BORN_DEBUG", Debug(), "Reject cache writes while a Window view is borrowed"},
	}
}

// Values returns every variable formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
