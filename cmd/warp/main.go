// Command warp is the CLI front end for the WarpGraph engine: commit,
// materialize, checkpoint, slice, sync, serve, status, and BTR
// create/verify, one file per subcommand under this package.
//
// Grounded on the teacher's cmd/crisk/main.go: a cobra rootCmd with a
// PersistentPreRun that wires a logrus logger and loads config.Config,
// and one file per subcommand registered from init().
package main

import (
	"fmt"
	"os"

	"github.com/git-stunts/warpgraph/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information, set by build flags.
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warp",
	Short: "WarpGraph - a distributed, content-addressed, causally-consistent property-graph engine",
	Long: `warp drives a WarpGraph instance: commit patches, materialize the
current graph, checkpoint a materialized state, slice a node's causal
cone, sync with a peer over HTTP, or serve the sync endpoint.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .warpgraph/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&graphFlag, "graph", "", "graph name (default: config's graph)")
	rootCmd.PersistentFlags().StringVar(&writerFlag, "writer", "", "writer identity (default: config's writer)")

	rootCmd.SetVersionTemplate(`warp {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(materializeCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(sliceCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(btrCreateCmd)
	rootCmd.AddCommand(btrVerifyCmd)
}
