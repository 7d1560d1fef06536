package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/parentchild/engine/app"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and parent store statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Vectors.DescribeStats(cmd.Context(), cfg.Namespace)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(map[string]any{
			"index":            st,
			"parent_store":     cfg.ParentStore.Backend,
			"parents_in_cache": a.Parents.Len(),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		cmd.Println(string(data))
		return nil
	},
}

var deleteYes bool

var deleteNamespaceCmd = &cobra.Command{
	Use:   "delete-namespace",
	Short: "Delete every vector in the configured namespace",
	Long: `Deletes all vectors stored under the configured namespace and empties
the namespace's parent store. Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !deleteYes {
			return fmt.Errorf("refusing to delete namespace %q without --yes", cfg.Namespace)
		}
		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Vectors.DeleteNamespace(cmd.Context(), cfg.Namespace); err != nil {
			return err
		}
		a.Parents.Clear()
		if err := a.Parents.Flush(cmd.Context()); err != nil {
			return err
		}
		cmd.Printf("namespace %s deleted\n", cfg.Namespace)
		return nil
	},
}

func init() {
	deleteNamespaceCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "confirm the deletion")
	rootCmd.AddCommand(statsCmd, deleteNamespaceCmd)
}
