package cmd

import (
	"fmt"
	"runtime"

	"github.com/D9292S/Quantum-Bank/quantumbank"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"quantum-bank %s (commit %s, built %s, %s)\n",
			quantumbank.Version,
			quantumbank.CommitSHA,
			quantumbank.BuildTime,
			runtime.Version(),
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
