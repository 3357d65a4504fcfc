package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// topologyCmd groups the subcommands that operate on a topology
// configuration file: validate, diff, and run.
var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Validate, diff, and run a topology configuration",
}

func init() {
	topologyCmd.AddCommand(topologyValidateCmd)
	topologyCmd.AddCommand(topologyDiffCmd)
	topologyCmd.AddCommand(topologyRunCmd)
}

func printBuildErrors(errs []error) {
	for _, e := range errs {
		fmt.Printf("  - %v\n", e)
	}
}
