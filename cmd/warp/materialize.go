package main

import (
	"context"
	"fmt"

	"github.com/git-stunts/warpgraph/internal/warpgraph"
	"github.com/spf13/cobra"
)

var materializeCeiling uint64

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Materialize the current graph and print its nodes and edges",
	RunE:  runMaterialize,
}

func init() {
	materializeCmd.Flags().Uint64Var(&materializeCeiling, "ceiling", 0, "bound the fold to patches with lamport <= ceiling (0 = unbounded)")
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	g, store, err := openWarpGraph()
	if err != nil {
		return err
	}
	defer closeStore(store)

	result, err := g.Materialize(ctx, warpgraph.MaterializeOptions{Ceiling: materializeCeiling})
	if err != nil {
		return fmt.Errorf("materialize: %w", err)
	}

	proj, err := result.State.Project()
	if err != nil {
		return fmt.Errorf("projecting state: %w", err)
	}

	fmt.Printf("nodes (%d):\n", len(proj.Nodes))
	for _, n := range proj.Nodes {
		fmt.Printf("  %s\n", n)
	}
	fmt.Printf("edges (%d):\n", len(proj.Edges))
	for _, e := range proj.Edges {
		fmt.Printf("  %s -%s-> %s\n", e.From, e.Label, e.To)
	}
	fmt.Printf("cache hit: %v\n", result.CacheHit)
	return nil
}
