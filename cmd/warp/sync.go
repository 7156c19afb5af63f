package main

import (
	"context"
	"fmt"

	"github.com/git-stunts/warpgraph/internal/cryptoimpl"
	"github.com/git-stunts/warpgraph/internal/syncclient"
	"github.com/git-stunts/warpgraph/internal/syncproto"
	"github.com/git-stunts/warpgraph/internal/warpgraph"
	"github.com/spf13/cobra"
)

var syncRemoteURL string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull patches from a remote WarpGraph peer and apply them",
	Long: `sync builds a request from this graph's current frontier, signs it with
the configured sync key, posts it to --remote (or config's sync.remote_url),
and folds the response's patches into the local cache.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncRemoteURL, "remote", "", "peer base URL (default: config's sync.remote_url)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	g, store, err := openWarpGraph()
	if err != nil {
		return err
	}
	defer closeStore(store)

	remote := syncRemoteURL
	if remote == "" {
		remote = cfg.Sync.RemoteURL
	}
	if remote == "" {
		return fmt.Errorf("sync: no remote configured (pass --remote or set sync.remote_url)")
	}

	// A materialized cache is a precondition of ApplySyncResponse (spec
	// §4.10); ensure one exists even if AutoMaterialize hasn't run yet.
	if _, err := g.Materialize(ctx, warpgraph.MaterializeOptions{}); err != nil {
		return fmt.Errorf("materialize before sync: %w", err)
	}

	local, err := syncproto.LocalFrontier(ctx, store, graphName())
	if err != nil {
		return fmt.Errorf("reading local frontier: %w", err)
	}
	req := syncproto.BuildRequest(local)

	client := syncclient.New(cryptoimpl.New(), syncclient.Config{
		BaseURL: remote,
		KeyID:   cfg.Sync.KeyID,
		Secret:  []byte(cfg.Sync.Secret),
	})

	resp, err := client.Sync(ctx, req)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	result, err := g.ApplySyncResponse(ctx, resp)
	if err != nil {
		return fmt.Errorf("applying sync response: %w", err)
	}

	fmt.Printf("applied %d patches from %s\n", result.Applied, remote)
	return nil
}
