package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var (
		query string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Runs one search query and prints the result as JSON",
		Long: `Fetches and extracts a single search query through the configured
mirrors, without touching monitor state or sending alerts. Useful for
checking a query string or diagnosing extractor drift against a
mirror's current markup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if query == "" {
				return errors.New("--query is required")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			result := a.Search.Run(cmd.Context(), query, limit)

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if result.ErrorText != "" && len(result.Posts) == 0 {
				return fmt.Errorf("search failed: %s", result.ErrorText)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "query string to search for")
	cmd.Flags().IntVarP(&limit, "limit", "n", 40, "maximum records to collect")
	return cmd
}
