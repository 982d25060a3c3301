// Command causal runs the grouped-query causal attention engine on a small
// seeded decoder model.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

const version = "v0.1.0"

func main() {
	if err := NewCLI().ExecuteContext(context.Background()); err != nil {
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// NewCLI builds the root command with every subcommand attached.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "causal",
		Short: "Autoregressive grouped-query causal attention",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cobra.EnableCommandSorting = false

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "causal %s\n", version)
		},
	}

	rootCmd.AddCommand(
		NewGenerateCmd(),
		NewVerifyCmd(),
		NewEnvCmd(),
		versionCmd,
	)
	return rootCmd
}
