package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orion-hub/orion-memory-go/pkg/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Store a memory",
		Long:  "Chunk, embed and store text. Text can be a positional arg or piped via stdin.",
		RunE:  runAdd,
	}

	cmd.Flags().StringP("source", "s", "", "Source id the memory belongs to (required)")
	cmd.Flags().String("type", "", "Memory type (default: general)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("meta", "", "JSON object of extra metadata")
	cmd.Flags().String("collection", "", "Collection name (default: configured collection)")

	_ = cmd.MarkFlagRequired("source")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	memType, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetString("tags")
	meta, _ := cmd.Flags().GetString("meta")
	collection, _ := cmd.Flags().GetString("collection")

	text := strings.Join(args, " ")
	if text == "" {
		stat, _ := os.Stdin.Stat()
		if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(b)
		}
	}

	opts := []core.AddOption{
		core.WithType(memType),
		core.WithTags(splitTags(tags)...),
		core.WithCollection(collection),
	}
	if meta != "" {
		var metadata map[string]interface{}
		if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
			return fmt.Errorf("parse --meta: %w", err)
		}
		opts = append(opts, core.WithMetadata(metadata))
	}

	client, err := openClient()
	if err != nil {
		return err
	}
	defer closeClient(client)

	res, err := client.AddMemory(cmd.Context(), text, source, opts...)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}
