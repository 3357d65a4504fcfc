// Package cmd implements the otus CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/otus/internal/config"
	"firestige.xyz/otus/internal/log"
)

// configFile is the path handed to internal/config.Load by every
// topology subcommand.
var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "otus",
	Short:   "Otus - observability dataflow runtime",
	Long:    `Otus builds and runs a dataflow of sources, transforms, and sinks from a topology configuration file.`,
	Version: "0.1.0",
	// PersistentPreRunE reads the logging section once, before any
	// subcommand logic runs, so the rest of the process (including the
	// bare logrus.Info/WithField calls in builder.go and topology_run.go)
	// logs through the configured level/formatter/appenders instead of
	// logrus's library default. A missing or unparseable config file is
	// not fatal here; subcommands load it again themselves and report it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			log.Init(log.DefaultLoggerConfig())
			return nil
		}
		log.Init(cfg.Log)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/otus/config.yaml",
		"topology config file path")
	rootCmd.AddCommand(topologyCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
