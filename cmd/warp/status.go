package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a lightweight snapshot of the graph's cache and writers",
	Long:  `status never materializes, even though the CLI opens the graph with auto-materialize enabled (spec §4.8).`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	g, store, err := openWarpGraph()
	if err != nil {
		return err
	}
	defer closeStore(store)

	st, err := g.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	fmt.Printf("graph: %s\n", graphName())
	fmt.Printf("cached state: %s\n", st.CachedState)
	fmt.Printf("patches since checkpoint: %d\n", st.PatchesSinceCheckpoint)
	fmt.Printf("tombstone ratio: %.4f\n", st.TombstoneRatio)
	fmt.Printf("writers (%d):\n", len(st.Writers))
	for _, w := range st.Writers {
		fmt.Printf("  %s -> %s\n", w, st.Frontier[w])
	}
	return nil
}
