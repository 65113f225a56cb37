package command

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashpack/flashpack/install"
)

var (
	cleanMaxAge time.Duration
	cleanAll    bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "clean evicts stale entries (or, with --all, every entry) from the package and tree stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		eng, err := install.NewEngine(ctx, cfg)
		if err != nil {
			return err
		}

		if cleanAll {
			if err := eng.Packages.ClearAll(); err != nil {
				return err
			}
			if err := eng.Trees.ClearAll(); err != nil {
				return err
			}
			fmt.Println("cleared package store and tree store")
			return nil
		}

		pkgRemoved, err := eng.Packages.Clean(cleanMaxAge)
		if err != nil {
			return err
		}
		treeRemoved, err := eng.Trees.Clean(cleanMaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d package entries and %d tree entries older than %s\n", pkgRemoved, treeRemoved, cleanMaxAge)
		return nil
	},
}

func init() {
	cleanCmd.Flags().DurationVar(&cleanMaxAge, "max-age", 30*24*time.Hour, "entries older than this are evicted")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "clear every entry regardless of age")
}
