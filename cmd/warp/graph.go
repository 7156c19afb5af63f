package main

import (
	"fmt"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/cryptoimpl"
	"github.com/git-stunts/warpgraph/internal/logging"
	"github.com/git-stunts/warpgraph/internal/memstore"
	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/git-stunts/warpgraph/internal/seekcache"
	"github.com/git-stunts/warpgraph/internal/warpgraph"
)

var (
	graphFlag  string
	writerFlag string
)

// graphName resolves the --graph flag against cfg.Graph.
func graphName() string {
	if graphFlag != "" {
		return graphFlag
	}
	return cfg.Graph
}

// writerName resolves the --writer flag against cfg.Writer.
func writerName() string {
	if writerFlag != "" {
		return writerFlag
	}
	return cfg.Writer
}

// closer is implemented by persistence backends that own an OS
// resource (the bbolt file handle) and must release it on exit.
type closer interface {
	Close() error
}

// openStore opens the PersistencePort named by cfg.Persistence.Backend.
func openStore() (ports.PersistencePort, error) {
	switch cfg.Persistence.Backend {
	case "", "memory":
		return memstore.NewMemory(), nil
	case "bbolt":
		store, err := memstore.OpenBbolt(cfg.Persistence.Path)
		if err != nil {
			return nil, fmt.Errorf("opening bbolt store at %s: %w", cfg.Persistence.Path, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

// openWarpGraph wires the full stack config.go's layering describes
// (persistence, codec, crypto, seek cache, engine logger) into a ready
// *warpgraph.WarpGraph for the named graph/writer.
func openWarpGraph() (*warpgraph.WarpGraph, ports.PersistencePort, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	codec := canon.New()
	crypto := cryptoimpl.New()

	var seek *seekcache.Cache
	if cfg.SeekCache.Enabled {
		seek = seekcache.New(seekcache.NewMemStore(), codec)
	}

	engineLogger, err := logging.NewLogger(logging.Config{Level: logging.INFO, JSONFormat: true})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing engine logger: %w", err)
	}

	g, err := warpgraph.New(store, codec, crypto, seek, engineLogger, warpgraph.Config{
		Graph:           graphName(),
		Writer:          writerName(),
		AutoMaterialize: true,
		WriterAllowList: cfg.Sync.WriterAllowList,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("constructing warpgraph: %w", err)
	}
	return g, store, nil
}

// closeStore releases store's resources, if it owns any.
func closeStore(store ports.PersistencePort) {
	if c, ok := store.(closer); ok {
		_ = c.Close()
	}
}
