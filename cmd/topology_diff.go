package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/otus/internal/config"
	"firestige.xyz/otus/internal/topology/model"
)

var diffAgainst string

var topologyDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show which components would be (re)built against a previous config",
	RunE: func(cmd *cobra.Command, args []string) error {
		next, err := config.Load(configFile)
		if err != nil {
			return err
		}

		var diff *model.Diff
		if diffAgainst == "" {
			diff = model.FullDiff(&next.Topology)
		} else {
			prev, err := config.Load(diffAgainst)
			if err != nil {
				return err
			}
			diff = model.DiffConfigs(&prev.Topology, &next.Topology)
		}

		printDiffCategory("sources", diff.Sources)
		printDiffCategory("transforms", diff.Transforms)
		printDiffCategory("sinks", diff.Sinks)
		printDiffCategory("enrichment_tables", diff.EnrichmentTables)
		return nil
	},
}

func printDiffCategory(label string, ids map[string]struct{}) {
	if len(ids) == 0 {
		return
	}
	fmt.Printf("%s:\n", label)
	for id := range ids {
		fmt.Printf("  + %s\n", id)
	}
}

func init() {
	topologyDiffCmd.Flags().StringVar(&diffAgainst, "against", "",
		"previous config file to diff against; omitted means everything is new")
}
