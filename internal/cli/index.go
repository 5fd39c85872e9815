package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orion-hub/orion-memory-go/pkg/core"
	"github.com/orion-hub/orion-memory-go/pkg/indexer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "index [dir]",
		Short: "Index .txt and .md files in a directory",
		Long: "Add every text document under dir as a local_doc_txt memory. " +
			"With --watch, keep running and index files as they are created or changed.",
		Args: cobra.ExactArgs(1),
		RunE: runIndex,
	}

	cmd.Flags().BoolP("watch", "w", false, "Keep watching the directory after the first pass")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags for every document")
	cmd.Flags().String("collection", "", "Collection name (default: configured collection)")

	RootCmd.AddCommand(cmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	watch, _ := cmd.Flags().GetBool("watch")
	tags, _ := cmd.Flags().GetString("tags")
	collection, _ := cmd.Flags().GetString("collection")
	dir := args[0]

	client, err := openClient()
	if err != nil {
		return err
	}
	defer closeClient(client)

	ix := indexer.New(client,
		indexer.WithTags(splitTags(tags)...),
		indexer.WithCollection(collection),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := ix.IndexDirectory(ctx, dir)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), stats); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	events, err := ix.Watch(ctx, dir)
	if err != nil {
		return err
	}
	for ev := range events {
		if ev.Err == nil {
			_ = writeJSON(cmd.OutOrStdout(), ev.Result)
		} else if errors.Is(ev.Err, core.ErrDuplicateMemory) {
			cmd.PrintErrf("skipped %s: already stored\n", ev.Path)
		}
	}
	return nil
}
