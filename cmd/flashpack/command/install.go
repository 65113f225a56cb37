package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flashpack/flashpack/install"
	"github.com/flashpack/flashpack/progress"
)

var installCmd = &cobra.Command{
	Use:   "install [project]",
	Short: "install materializes the project's dependencies from cache, snapshot, or the registry",
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
		eng, err := install.NewEngine(ctx, cfg, install.WithProgress(progress.NewConsoleSink("installing")))
		if err != nil {
			return err
		}

		deps, lockBytes, err := resolveDependencies(project)
		if err != nil {
			return err
		}

		res, err := install.New(eng).Install(ctx, project, deps, lockBytes)
		if err != nil {
			return err
		}
		return reportResult(res)
	},
}

// reportResult prints a human-readable summary of an install/sync Result
// and turns a non-empty failure list into a non-zero exit via the returned
// error, the same "no error but non-zero Result" path the orchestrator
// uses to keep partial success distinguishable from a hard failure.
func reportResult(res install.Result) error {
	fmt.Printf("source: %s  installed: %d  failed: %d  duration: %s\n",
		res.Source, len(res.Installed), len(res.Failed), res.Duration)

	for _, fb := range res.Fallbacks {
		progress.Warn(fmt.Sprintf("%s resolved to %s via %s (non-exact match)", fb.Package, fb.ResolvedVersion, fb.Source))
	}
	for _, f := range res.Failed {
		progress.Warn(fmt.Sprintf("%s failed: %s", f.Package, f.Err))
	}

	if !res.Success {
		return fmt.Errorf("%d package(s) failed to install", len(res.Failed))
	}
	return nil
}
