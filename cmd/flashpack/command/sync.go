package command

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flashpack/flashpack/install"
	"github.com/flashpack/flashpack/progress"
)

var syncCmd = &cobra.Command{
	Use:   "sync [project]",
	Short: "sync reconciles the materialized tree with the resolved dependency set, installing only the diff",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := "."
		if len(args) == 1 {
			project = args[0]
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		eng, err := install.NewEngine(ctx, cfg, install.WithProgress(progress.NewConsoleSink("syncing")))
		if err != nil {
			return err
		}

		deps, lockBytes, err := resolveDependencies(project)
		if err != nil {
			return err
		}

		res, err := install.New(eng).Sync(ctx, project, deps, lockBytes)
		if err != nil {
			return err
		}
		return reportResult(res)
	},
}
