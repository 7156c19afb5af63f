package main

import (
	"context"

	"github.com/git-stunts/warpgraph/internal/cryptoimpl"
	"github.com/git-stunts/warpgraph/internal/httpsync"
	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/git-stunts/warpgraph/internal/syncauth"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the sync endpoint for peers to pull from",
	Long: `serve wires the graph's HandleSyncRequest behind the HMAC-authenticated
sync transport (spec §4.11) and listens on --addr.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":7420", "address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	g, store, err := openWarpGraph()
	if err != nil {
		return err
	}
	defer closeStore(store)

	mode := syncauth.ModeEnforce
	if cfg.Sync.Mode == string(syncauth.ModeLogOnly) {
		mode = syncauth.ModeLogOnly
	}

	secret := []byte(cfg.Sync.Secret)
	keyID := cfg.Sync.KeyID
	resolveKey := func(id string) ([]byte, bool) {
		if id != keyID {
			return nil, false
		}
		return secret, true
	}

	nonceCacheSize := cfg.Sync.NonceCacheSize
	if nonceCacheSize <= 0 {
		nonceCacheSize = 4096
	}

	srv := httpsync.New(g, cryptoimpl.New(), httpsync.Config{
		Path:            cfg.Sync.Path,
		MaxBodyBytes:    cfg.Sync.MaxBodyBytes,
		Mode:            mode,
		MaxClockSkew:    cfg.Sync.MaxClockSkew,
		ResolveKey:      resolveKey,
		Nonces:          syncauth.NewNonceCache(nonceCacheSize),
		WriterAllowList: cfg.Sync.WriterAllowList,
	})

	path := cfg.Sync.Path
	if path == "" {
		path = "/sync"
	}

	ctx := context.Background()
	transport := httpsync.NewNetHTTPServer()
	transport.HandleFunc(path, func(w ports.ResponseWriter, req *ports.Request) {
		srv.Handle(ctx, w, req)
	})

	logger.Infof("serving %s on %s (mode=%s)", path, serveAddr, mode)
	return transport.ListenAndServe(serveAddr)
}
