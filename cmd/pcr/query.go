package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/parentchild/engine/app"
	"github.com/WessleyAI/parentchild/engine/rag"
)

var (
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve the parents whose children best match the text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		hits, err := a.Retriever.RetrieveWithScores(cmd.Context(), args[0], queryTopK)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		return printHits(cmd, hits, queryJSON)
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "maximum number of parents; 0 uses top_k from the config")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output hits as JSON")
	rootCmd.AddCommand(queryCmd)
}

func printHits(cmd *cobra.Command, hits []rag.Hit, asJSON bool) error {
	if asJSON {
		if hits == nil {
			hits = []rag.Hit{}
		}
		data, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal hits: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, block := range rag.FormatContext(hits) {
		if i > 0 {
			cmd.Println()
		}
		cmd.Println(block)
	}
	return nil
}
