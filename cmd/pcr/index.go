package main

import (
	"github.com/spf13/cobra"

	"github.com/WessleyAI/parentchild/engine/app"
)

var recreateIndex bool

var initIndexCmd = &cobra.Command{
	Use:   "init-index",
	Short: "Create the vector index if it does not exist",
	Long: `Creates the configured index with the configured dimension and metric,
then waits until it is ready. An existing index is left alone unless
--recreate is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if recreateIndex {
			if err := a.Vectors.DeleteIndex(cmd.Context()); err != nil {
				return err
			}
		}
		if err := a.EnsureIndex(cmd.Context()); err != nil {
			return err
		}
		cmd.Printf("index %s ready (dimension %d, metric %s)\n", cfg.IndexName, cfg.EmbeddingDimension, cfg.Index.Metric)
		return nil
	},
}

func init() {
	initIndexCmd.Flags().BoolVar(&recreateIndex, "recreate", false, "delete the index first")
	rootCmd.AddCommand(initIndexCmd)
}
