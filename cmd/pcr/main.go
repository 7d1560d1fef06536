// Command pcr manages a parent-child retrieval index from the shell.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/parentchild/engine/app"
	"github.com/WessleyAI/parentchild/engine/config"
)

var (
	configPath string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pcr",
	Short: "Parent-child retrieval index tool",
	Long: `pcr indexes documents as small child chunks for vector search and
returns the larger parent documents the matching children came from.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			c.Log.Level = "debug"
		}
		cfg = c
		logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PCR_CONFIG"), "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// openApp wires the components for one command. Each invocation is a new
// process, so saved parents are loaded up front unless parents are chunked,
// in which case the store starts empty.
func openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger, nil, opts)
	if err != nil {
		return nil, fmt.Errorf("wire components: %w", err)
	}
	if !cfg.ChunkParents && !cfg.ParentStore.LoadOnStart {
		if err := a.Parents.Load(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
