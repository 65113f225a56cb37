package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flashpack/flashpack/install"
)

var optimizeAfterVerify bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "verify drops stored entries whose files are missing or whose size drifted from the record, optionally compacting the store afterward",
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

		pkgBad, err := eng.Packages.Verify(ctx)
		if err != nil {
			return err
		}
		treeBad, err := eng.Trees.Verify(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d corrupt package entries and %d corrupt tree entries\n", pkgBad, treeBad)

		if optimizeAfterVerify {
			pkgSaved, err := eng.Packages.Optimize(ctx)
			if err != nil {
				return err
			}
			treeSaved, err := eng.Trees.Optimize(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("optimize reclaimed %d bytes (packages) + %d bytes (trees)\n", pkgSaved, treeSaved)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&optimizeAfterVerify, "optimize", false, "compact the store after verifying")
}
