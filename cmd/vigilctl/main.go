package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/cli"
	"github.com/MikeSquared-Agency/vigil/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "vigilctl",
		Short:   "vigilctl - offline tools for the Vigil moderation engine",
		Version: version.String(),
		Long: `vigilctl runs the Vigil decision pipeline from the command line.
It scores single messages, validates policy files, replays recorded
conversations and verifies the decision audit log.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.InferCmd())
	rootCmd.AddCommand(cli.ValidateCmd())
	rootCmd.AddCommand(cli.ReplayCmd())
	rootCmd.AddCommand(cli.AuditCmd())
	rootCmd.AddCommand(cli.VersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
