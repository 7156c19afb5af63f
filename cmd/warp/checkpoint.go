package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Materialize (if needed) and commit a checkpoint",
	RunE:  runCheckpoint,
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	g, store, err := openWarpGraph()
	if err != nil {
		return err
	}
	defer closeStore(store)

	result, err := g.CreateCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	fmt.Printf("checkpoint %s (state hash %s)\n", result.SHA, result.StateHash)
	return nil
}
