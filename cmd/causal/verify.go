package main

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/born-ml/causal/internal/generate"
	"github.com/born-ml/causal/internal/model"
	"github.com/born-ml/causal/internal/tensor"
)

// ErrMismatch reports incremental logits that differ from the full path.
var ErrMismatch = errors.New("incremental logits differ from the full pass")

// positionDiff is the largest logit difference at one position.
type positionDiff struct {
	position int
	maxDiff  float64
	wrapped  bool
}

// NewVerifyCmd returns the verify command: run random tokens through the
// full causal path and through a session one position at a time, and
// compare the logits.
func NewVerifyCmd() *cobra.Command {
	var (
		tokens    int
		batch     int
		tolerance float64
		tokSeed   int64
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare incremental decoding against the full causal pass",
		Args:  cobra.NoArgs,
	}
	ef := addEngineFlags(cmd.Flags())
	cmd.Flags().IntVarP(&tokens, "tokens", "n", 16, "Sequence length")
	cmd.Flags().IntVarP(&batch, "batch", "b", 2, "Independent sequences")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 1e-3, "Largest accepted logit difference once the cache wraps")
	cmd.Flags().Int64Var(&tokSeed, "token-seed", 7, "Seed of the random token ids")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if tokens <= 0 || batch <= 0 {
			return errors.Errorf("verify: tokens and batch must be positive, got %d and %d", tokens, batch)
		}
		e, err := ef.open(cmd, batch)
		if err != nil {
			return err
		}
		defer e.release()

		diffs, session, err := verifyRun(e, tokens, tokSeed)
		if session != nil {
			defer session.Close()
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		renderDiffs(out, diffs, tolerance)
		fmt.Fprintln(out)
		renderCache(out, session)

		for _, d := range diffs {
			if (!d.wrapped && d.maxDiff != 0) || d.maxDiff > tolerance {
				return errors.Wrapf(ErrMismatch, "position %d: max |diff| %g", d.position, d.maxDiff)
			}
		}
		return nil
	}
	return cmd
}

// verifyRun returns per-position differences between the full pass and a
// session stepped one token at a time over the same random tokens.
func verifyRun(e *engine, n int, seed int64) ([]positionDiff, *generate.Session, error) {
	cfg := e.session
	if !cfg.Sliding && n > cfg.Capacity {
		return nil, nil, errors.Errorf("verify: %d tokens exceed capacity %d; use --sliding or a larger --capacity", n, cfg.Capacity)
	}
	vocab := e.model.Config().VocabSize
	rng := rand.New(rand.NewSource(seed))
	toks := make([][]int32, cfg.Batch)
	for b := range toks {
		toks[b] = make([]int32, n)
		for t := range toks[b] {
			toks[b][t] = int32(rng.Intn(vocab)) //nolint:gosec // vocab < 2^31
		}
	}

	opts := model.ForwardOptions{Precision: cfg.Precision}
	if cfg.Sliding {
		opts.Window = cfg.Capacity
	}
	full, err := e.model.Forward(toks, tensor.Positions(cfg.Batch, 1, n), opts)
	if err != nil {
		return nil, nil, err
	}

	session, err := generate.NewSession(e.model, cfg)
	if err != nil {
		return nil, nil, err
	}
	diffs := make([]positionDiff, n)
	column := make([]int32, cfg.Batch)
	for t := 0; t < n; t++ {
		for b := range column {
			column[b] = toks[b][t]
		}
		logits, err := session.Step(column)
		if err != nil {
			return nil, session, err
		}
		d := positionDiff{position: t + 1, wrapped: t >= cfg.Capacity}
		for b := 0; b < cfg.Batch; b++ {
			want := full.Row(b, t)
			got := logits.Row(b, 0)
			for i := range want {
				d.maxDiff = math.Max(d.maxDiff, math.Abs(float64(want[i]-got[i])))
			}
		}
		diffs[t] = d
	}
	return diffs, session, nil
}

func renderDiffs(w io.Writer, diffs []positionDiff, tolerance float64) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"POSITION", "MAX |DIFF|", "CACHE", "RESULT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, d := range diffs {
		cache, result := "filling", "exact"
		if d.wrapped {
			cache = "wrapped"
		}
		switch {
		case d.maxDiff == 0:
		case d.wrapped && d.maxDiff <= tolerance:
			result = "within tolerance"
		default:
			result = "MISMATCH"
		}
		table.Append([]string{strconv.Itoa(d.position), strconv.FormatFloat(d.maxDiff, 'g', 3, 64), cache, result})
	}
	table.Render()
}

func renderCache(w io.Writer, s *generate.Session) {
	c := s.Cache()
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"LAYER", "ELEMENT", "SEQ", "RESIDENT", "OLDEST AGE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	cfg := c.Config()
	for l := 0; l < cfg.Layers; l++ {
		for b := 0; b < cfg.Batch; b++ {
			oldest := -1
			for slot := 0; slot < cfg.Capacity; slot++ {
				oldest = max(oldest, c.Age(l, b, slot))
			}
			table.Append([]string{
				strconv.Itoa(l), strconv.Itoa(b),
				strconv.Itoa(c.LayerSeq(l, b)), strconv.Itoa(min(c.LayerSeq(l, b), cfg.Capacity)),
				strconv.Itoa(oldest),
			})
		}
	}
	table.Render()
	fmt.Fprintf(w, "\nsession %s: %s cache, precision %s, sliding %t\n",
		s.ID(), humanize.IBytes(uint64(c.Bytes())), cfg.Precision, cfg.Sliding)
}
