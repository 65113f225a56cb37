package command

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/flashpack/flashpack/install"
	"github.com/flashpack/flashpack/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "stats prints aggregate size and entry counts for the package and tree stores",
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

		printStats("packages", eng.Packages.Stats())
		printStats("trees", eng.Trees.Stats())
		return nil
	},
}

func printStats(label string, s store.Stats) {
	fmt.Printf("%-8s entries=%d size=%s avg=%s\n", label, s.Entries, humanize.Bytes(uint64(s.Size)), humanize.Bytes(uint64(s.AvgSize)))
}

func init() {
	RootCmd.AddCommand(statsCmd)
}
