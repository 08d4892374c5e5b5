// Package main is the entry point for the cpgraph CLI: index, embed and
// search a Git repository's code property graph.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cpgraph/engine/internal/cpgerrors"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

// run executes the root command and maps errors to the exit codes the CLI
// surface promises: 0 success, 1 runtime error, 2 usage error.
func run() int {
	err := rootCmd().Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)

	var cpgErr *cpgerrors.Error
	if cpgerrors.As(err, &cpgErr) && cpgErr.Kind == cpgerrors.KindUsage {
		return 2
	}
	return 1
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cpgraph",
		Short:         "Code property graph engine",
		Long:          `cpgraph indexes Git repositories into a code property graph and answers hybrid vector/keyword retrieval queries over it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(indexCmd())
	cmd.AddCommand(embedCmd())
	cmd.AddCommand(searchCmd())
	cmd.AddCommand(dbCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "cpgraph %s (%s)\n", version, commit)
			return nil
		},
	}
}
