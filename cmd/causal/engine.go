package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/born-ml/causal/internal/backend"
	"github.com/born-ml/causal/internal/envconfig"
	"github.com/born-ml/causal/internal/generate"
	"github.com/born-ml/causal/internal/model"
	"github.com/born-ml/causal/internal/tensor"
)

// engineFlags are shared by the commands that build a model and a session.
type engineFlags struct {
	backend   string
	precision string
	capacity  int
	sliding   bool
	workers   int
	seed      int64
	layers    int
}

func addEngineFlags(fs *pflag.FlagSet) *engineFlags {
	f := &engineFlags{}
	fs.StringVar(&f.backend, "backend", envconfig.Backend(), "Compute backend: cpu, parallel or webgpu")
	fs.StringVar(&f.precision, "precision", envconfig.Precision().String(), "Session precision: f32 or f16")
	fs.IntVar(&f.capacity, "capacity", int(envconfig.SeqMax()), "KV cache positions per sequence")
	fs.BoolVar(&f.sliding, "sliding", envconfig.Sliding(), "Evict the oldest position when the cache is full")
	fs.IntVar(&f.workers, "workers", envconfig.NumWorkers(), "Goroutines of the parallel backend")
	fs.Int64Var(&f.seed, "seed", model.DefaultConfig().Seed, "Model weight seed")
	fs.IntVar(&f.layers, "layers", model.DefaultConfig().NbLayers, "Decoder layers")
	return f
}

// engine is an opened backend with a model and the session settings
// derived from the flags.
type engine struct {
	model   *model.Model
	session generate.SessionConfig
	release func()
}

func (f *engineFlags) open(cmd *cobra.Command, batch int) (*engine, error) {
	precision, err := tensor.ParsePrecision(f.precision)
	if err != nil {
		return nil, err
	}
	b, release, err := backend.Open(f.backend, f.workers)
	if err != nil {
		return nil, err
	}

	cfg := model.DefaultConfig()
	cfg.Seed = f.seed
	cfg.NbLayers = f.layers
	m, err := model.New(cfg, b)
	if err != nil {
		release()
		return nil, errors.WithMessage(err, cmd.Name())
	}

	sc := generate.DefaultSessionConfig()
	sc.Batch = batch
	sc.Capacity = f.capacity
	sc.Sliding = f.sliding
	sc.Precision = precision
	return &engine{model: m, session: sc, release: release}, nil
}
