package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	commitAddNodes      []string
	commitRemoveNodes   []string
	commitAddEdges      []string
	commitRemoveEdges   []string
	commitSetNodeProps  []string
	commitSetEdgeProps  []string
	commitReads         []string
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Build and commit a patch from one or more ops",
	Long: `commit accumulates ops from its flags into a single patch and commits
it under --writer's chain. Edge flags take "from:to:label"; property
flags take "target:key:value" ("node:key:value" or
"from:to:label:key:value" for an edge property).`,
	RunE: runCommit,
}

func init() {
	commitCmd.Flags().StringArrayVar(&commitAddNodes, "add-node", nil, "node id to add (repeatable)")
	commitCmd.Flags().StringArrayVar(&commitRemoveNodes, "remove-node", nil, "node id to remove (repeatable)")
	commitCmd.Flags().StringArrayVar(&commitAddEdges, "add-edge", nil, "from:to:label edge to add (repeatable)")
	commitCmd.Flags().StringArrayVar(&commitRemoveEdges, "remove-edge", nil, "from:to:label edge to remove (repeatable)")
	commitCmd.Flags().StringArrayVar(&commitSetNodeProps, "set-node-prop", nil, "node:key:value (repeatable)")
	commitCmd.Flags().StringArrayVar(&commitSetEdgeProps, "set-edge-prop", nil, "from:to:label:key:value (repeatable)")
	commitCmd.Flags().StringArrayVar(&commitReads, "read", nil, "entity id this patch's author observed (repeatable)")
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	g, store, err := openWarpGraph()
	if err != nil {
		return err
	}
	defer closeStore(store)

	b := g.CreatePatch()
	for _, n := range commitAddNodes {
		b.AddNode(n)
	}
	for _, n := range commitRemoveNodes {
		b.RemoveNode(n)
	}
	for _, e := range commitAddEdges {
		parts := strings.SplitN(e, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("--add-edge %q: expected from:to:label", e)
		}
		b.AddEdge(parts[0], parts[1], parts[2])
	}
	for _, e := range commitRemoveEdges {
		parts := strings.SplitN(e, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("--remove-edge %q: expected from:to:label", e)
		}
		b.RemoveEdge(parts[0], parts[1], parts[2])
	}
	for _, p := range commitSetNodeProps {
		parts := strings.SplitN(p, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("--set-node-prop %q: expected node:key:value", p)
		}
		b.SetNodeProp(parts[0], parts[1], parts[2])
	}
	for _, p := range commitSetEdgeProps {
		parts := strings.SplitN(p, ":", 5)
		if len(parts) != 5 {
			return fmt.Errorf("--set-edge-prop %q: expected from:to:label:key:value", p)
		}
		b.SetEdgeProp(parts[0], parts[1], parts[2], parts[3], parts[4])
	}
	for _, r := range commitReads {
		b.Read(r)
	}

	result, err := b.Commit(ctx)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"sha":     result.SHA,
		"writer":  result.Patch.Writer,
		"lamport": result.Patch.Lamport,
	}).Info("committed patch")
	fmt.Println(result.SHA)
	return nil
}
