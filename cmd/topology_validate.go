package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/otus/internal/config"
	"firestige.xyz/otus/internal/topology/builder"
	"firestige.xyz/otus/internal/topology/model"
)

var topologyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load a topology config and report any build errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		reg := builder.NewRegistry()
		registerPlugins(reg)

		b := builder.New(reg)
		_, errs := b.Build(&cfg.Topology, model.FullDiff(&cfg.Topology), nil)
		if len(errs) > 0 {
			fmt.Println("invalid topology:")
			printBuildErrors(errs)
			exitWithError("validation failed", nil)
			return nil
		}

		fmt.Println("topology is valid")
		return nil
	},
}
