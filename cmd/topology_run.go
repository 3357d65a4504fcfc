package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"firestige.xyz/otus/internal/config"
	"firestige.xyz/otus/internal/metrics"
	"firestige.xyz/otus/internal/topology/builder"
	"firestige.xyz/otus/internal/topology/fanout"
	"firestige.xyz/otus/internal/topology/model"
)

var topologyRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Build and run a topology until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		reg := builder.NewRegistry()
		registerPlugins(reg)

		b := builder.New(reg)
		pieces, errs := b.Build(&cfg.Topology, model.FullDiff(&cfg.Topology), nil)
		if len(errs) > 0 {
			printBuildErrors(errs)
			exitWithError("failed to build topology", nil)
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if cfg.Topology.Global.Metrics.Enabled {
			srv := metrics.NewServer(cfg.Topology.Global.Metrics.Listen, cfg.Topology.Global.Metrics.Path)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			defer srv.Stop(context.Background())
		}

		if err := wireOnce(ctx, pieces); err != nil {
			return err
		}

		for key, task := range pieces.SourceTasks {
			go runTask(ctx, key, task)
		}
		for key, task := range pieces.Tasks {
			go runTask(ctx, key, task)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logrus.Info("shutdown signal received, stopping sources")
		cancel()
		return nil
	},
}

func runTask(ctx context.Context, key model.ComponentKey, task model.Task) {
	if _, err := task.Run(ctx); err != nil && err != context.Canceled {
		logrus.WithField("component", key.String()).WithError(err).Error("task exited")
	}
}

// wireOnce splices every Inputs[key].Upstream OutputId into the fanout
// control channel of the component it names; a full reconciler that
// re-splices on every rebuild is out of scope, but a single first-build
// wiring is enough for a one-shot "run" invocation.
func wireOnce(ctx context.Context, pieces *builder.Pieces) error {
	for key, input := range pieces.Inputs {
		for _, up := range input.Upstream {
			ctrl, ok := pieces.Outputs[up.Key][up.Port]
			if !ok {
				continue
			}
			if err := fanout.Add(ctx, ctrl, model.Port(key.String()), input.Producer); err != nil {
				return err
			}
		}
	}
	return nil
}
