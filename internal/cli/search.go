package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orion-hub/orion-memory-go/pkg/core"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by similarity",
		Long:  "Embed the query and return the most similar memory points, best first.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().String("type", "", "Filter by memory type")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags; every tag must match")
	cmd.Flags().String("source", "", "Filter by source id")
	cmd.Flags().String("filter", "", `Filter JSON, e.g. {"must":[{"key":"payload.type","match":{"value":"note"}}]}`)
	cmd.Flags().IntP("limit", "l", 0, "Max results (default: configured limit)")
	cmd.Flags().Float64("min-score", 0, "Minimum similarity score (default: configured minimum)")
	cmd.Flags().String("collection", "", "Collection name (default: configured collection)")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	memType, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetString("tags")
	source, _ := cmd.Flags().GetString("source")
	rawFilter, _ := cmd.Flags().GetString("filter")
	limit, _ := cmd.Flags().GetInt("limit")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	collection, _ := cmd.Flags().GetString("collection")

	filter := storage.NewFilter()
	if rawFilter != "" {
		parsed, err := storage.ParseFilter([]byte(rawFilter))
		if err != nil {
			return fmt.Errorf("parse --filter: %w", err)
		}
		if parsed != nil {
			filter = parsed
		}
	}
	if memType != "" {
		filter = filter.And(storage.TypeIs(memType))
	}
	if source != "" {
		filter = filter.And(storage.SourceIs(source))
	}
	for _, tag := range splitTags(tags) {
		filter = filter.And(storage.HasTag(tag))
	}

	client, err := openClient()
	if err != nil {
		return err
	}
	defer closeClient(client)

	opts := []core.SearchOption{
		core.WithFilter(filter),
		core.WithLimit(limit),
		core.WithSearchCollection(collection),
	}
	// An explicit --min-score 0 overrides a configured floor.
	if cmd.Flags().Changed("min-score") {
		opts = append(opts, core.WithMinScore(minScore))
	}

	results, err := client.SearchMemory(cmd.Context(), strings.Join(args, " "), opts...)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), results)
}
