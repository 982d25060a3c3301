package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/born-ml/causal/internal/generate"
	"github.com/born-ml/causal/internal/tokenizer"
)

// NewGenerateCmd returns the generate command: prime a prompt and sample
// continuation tokens.
func NewGenerateCmd() *cobra.Command {
	var (
		tokName  string
		steps    int
		sampling = generate.DefaultSamplingConfig()
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "generate PROMPT",
		Short: "Prime a prompt and sample new tokens",
		Args:  cobra.ExactArgs(1),
	}
	ef := addEngineFlags(cmd.Flags())
	cmd.Flags().StringVar(&tokName, "tokenizer", "byte", "Tokenizer: byte, cl100k_base, p50k_base or r50k_base")
	cmd.Flags().IntVarP(&steps, "steps", "n", 32, "Tokens to generate")
	cmd.Flags().Float32Var(&sampling.Temperature, "temperature", sampling.Temperature, "Sampling temperature (0 = greedy)")
	cmd.Flags().IntVar(&sampling.TopK, "top-k", sampling.TopK, "Keep the k most likely tokens (0 = all)")
	cmd.Flags().Float32Var(&sampling.TopP, "top-p", sampling.TopP, "Nucleus sampling mass (1 = off)")
	cmd.Flags().Int64Var(&sampling.Seed, "sample-seed", sampling.Seed, "Sampler seed")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		e, err := ef.open(cmd, 1)
		if err != nil {
			return err
		}
		defer e.release()

		tok, err := tokenizer.New(tokName, e.model.Config().VocabSize)
		if err != nil {
			return err
		}
		ids, err := tok.Encode(args[0])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return errors.New("generate: empty prompt")
		}

		session, err := generate.NewSession(e.model, e.session)
		if err != nil {
			return err
		}
		defer session.Close()

		if !quiet {
			bar := progressbar.NewOptions(steps,
				progressbar.OptionSetDescription(fmt.Sprintf("Generating (%s cache): ",
					humanize.IBytes(uint64(session.Cache().Bytes())))),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("tokens"),
				progressbar.OptionSetTheme(progressbar.ThemeUnicode),
				progressbar.OptionClearOnFinish(),
			)
			session.SetProgress(func(done, total int) { _ = bar.Set(done) })
		}

		out, err := session.Generate(cmd.Context(), [][]int32{ids}, len(ids), steps, generate.NewSampler(sampling))
		if err != nil {
			return err
		}
		text, err := tok.Decode(out[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%q\n", text)
		return nil
	}
	return cmd
}
