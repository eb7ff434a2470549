package cmd

import (
	"fmt"

	"github.com/D9292S/Quantum-Bank/quantumbank"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Start the Quantum Bank Discord bot and admin API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		qb, err := quantumbank.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating quantum bank: %w", err)
		}
		return qb.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
