// Package cli implements the orion-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orion-hub/orion-memory-go/pkg/core"
)

var (
	envFile    string
	configFile string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "orion-memory",
	Short: "Long-term semantic memory over a vector store",
	Long: "Store text as embedded memory points and retrieve it by similarity. " +
		"Backends and embedding providers are configured through the environment or a JSON file.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to a .env file (default: nearest .env or .env.example)")
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a JSON config file; overrides the environment")
}

// loadConfig reads --config if given, otherwise the environment plus
// --env or the nearest .env file.
func loadConfig() (*core.Config, error) {
	if configFile != "" {
		return core.LoadConfigFromJSON(configFile)
	}
	if envFile != "" {
		return core.LoadConfigFromEnvFile(envFile)
	}
	return core.LoadConfigFromEnv()
}

func openClient() (*core.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return core.NewClient(cfg)
}

// closeClient logs instead of failing a command whose work already succeeded.
func closeClient(client *core.Client) {
	if err := client.Close(); err != nil {
		log.Printf("[CLI] Failed to close memory client: %v", err)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// splitTags parses a comma-separated flag value.
func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
