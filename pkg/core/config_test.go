package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-hub/orion-memory-go/pkg/core"
)

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		wantStore string
		wantDims  int
		check     func(t *testing.T, cfg *core.Config)
	}{
		{
			name:      "defaults run offline",
			envVars:   map[string]string{"MEMORY_STORE_PROVIDER": "chromem", "EMBEDDING_PROVIDER": "hash"},
			wantStore: "chromem",
			wantDims:  384,
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, core.DefaultCollection, cfg.Memory.Collection)
				assert.Equal(t, 2000, cfg.Memory.MaxChunkChars)
				assert.Equal(t, 5, cfg.Memory.DefaultLimit)
				assert.Nil(t, cfg.Secondary)
			},
		},
		{
			name: "qdrant with openai",
			envVars: map[string]string{
				"MEMORY_STORE_PROVIDER": "qdrant",
				"QDRANT_HOST":           "qdrant.internal",
				"QDRANT_PORT":           "6444",
				"EMBEDDING_PROVIDER":    "openai",
				"EMBEDDING_API_KEY":     "test-key",
				"EMBEDDING_MODEL":       "text-embedding-ada-002",
			},
			wantStore: "qdrant",
			wantDims:  1536,
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, "qdrant.internal", cfg.VectorStore.Config["host"])
				assert.Equal(t, 6444, cfg.VectorStore.Config["port"])
				assert.Equal(t, "test-key", cfg.Embedder.APIKey)
			},
		},
		{
			name: "memory settings and secondary",
			envVars: map[string]string{
				"MEMORY_STORE_PROVIDER":  "sqlite",
				"SQLITE_PATH":            "./test.db",
				"EMBEDDING_PROVIDER":     "hash",
				"EMBEDDING_DIMS":         "64",
				"MEMORY_COLLECTION":      "orion_feedback_memory",
				"MEMORY_MAX_CHUNK_CHARS": "500",
				"MEMORY_DEFAULT_LIMIT":   "3",
				"MEMORY_MIN_SCORE":       "0.7",
				"SECONDARY_ENABLED":      "true",
				"SECONDARY_DRIVER":       "sqlite",
				"SECONDARY_SQLITE_PATH":  "./entries.db",
				"SECONDARY_TYPES":        "lessons_learned, application_draft",
			},
			wantStore: "sqlite",
			wantDims:  64,
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, "./test.db", cfg.VectorStore.Config["db_path"])
				assert.Equal(t, core.FeedbackCollection, cfg.Memory.Collection)
				assert.Equal(t, 500, cfg.Memory.MaxChunkChars)
				assert.Equal(t, 3, cfg.Memory.DefaultLimit)
				assert.InDelta(t, 0.7, cfg.Memory.MinScore, 1e-9)
				require.NotNil(t, cfg.Secondary)
				assert.Equal(t, "sqlite", cfg.Secondary.Driver)
				assert.Equal(t, "./entries.db", cfg.Secondary.DSN)
				assert.Equal(t, []string{"lessons_learned", "application_draft"}, cfg.Secondary.Types)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			config, err := core.LoadConfigFromEnv()
			require.NoError(t, err)
			require.NotNil(t, config)
			assert.Equal(t, tt.wantStore, config.VectorStore.Provider)
			assert.Equal(t, tt.wantDims, config.Embedder.Dimensions)
			assert.NoError(t, config.Validate())
			tt.check(t, config)
		})
	}
}

func TestLoadConfigFromEnvBadNumber(t *testing.T) {
	t.Setenv("MEMORY_STORE_PROVIDER", "chromem")
	t.Setenv("MEMORY_DEFAULT_LIMIT", "five")

	config, err := core.LoadConfigFromEnv()
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Nil(t, config)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *core.Config)
		wantErr bool
	}{
		{name: "default config", mutate: func(*core.Config) {}},
		{name: "missing embedder", mutate: func(c *core.Config) { c.Embedder.Provider = "" }, wantErr: true},
		{name: "unknown embedder", mutate: func(c *core.Config) { c.Embedder.Provider = "word2vec" }, wantErr: true},
		{name: "missing store", mutate: func(c *core.Config) { c.VectorStore.Provider = "" }, wantErr: true},
		{name: "unknown store", mutate: func(c *core.Config) { c.VectorStore.Provider = "redis" }, wantErr: true},
		{name: "negative dims", mutate: func(c *core.Config) { c.Embedder.Dimensions = -1 }, wantErr: true},
		{name: "zero chunk size", mutate: func(c *core.Config) { c.Memory.MaxChunkChars = 0 }, wantErr: true},
		{name: "zero limit", mutate: func(c *core.Config) { c.Memory.DefaultLimit = 0 }, wantErr: true},
		{name: "bad ttl", mutate: func(c *core.Config) { c.Memory.QueryCacheTTL = "soon" }, wantErr: true},
		{name: "ttl disabled", mutate: func(c *core.Config) { c.Memory.QueryCacheTTL = "0" }},
		{
			name: "secondary without dsn",
			mutate: func(c *core.Config) {
				c.Secondary = &core.SecondaryConfig{Enabled: true, Driver: "postgres"}
			},
			wantErr: true,
		},
		{
			name: "disabled secondary is ignored",
			mutate: func(c *core.Config) {
				c.Secondary = &core.SecondaryConfig{Enabled: false}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"embedder": {"provider": "hash", "dimensions": 128},
		"vector_store": {"provider": "sqlite", "config": {"db_path": "./memories.db"}},
		"memory": {"default_limit": 3}
	}`), 0o600))

	cfg, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "hash", cfg.Embedder.Provider)
	assert.Equal(t, 128, cfg.Embedder.Dimensions)
	assert.Equal(t, "./memories.db", cfg.VectorStore.Config["db_path"])
	assert.Equal(t, 3, cfg.Memory.DefaultLimit)
	// Omitted settings take defaults.
	assert.Equal(t, core.DefaultCollection, cfg.Memory.Collection)
	assert.Equal(t, 2000, cfg.Memory.MaxChunkChars)
	assert.NoError(t, cfg.Validate())

	_, err = core.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	var memErr *core.MemoryError
	assert.ErrorAs(t, err, &memErr)
}

func TestNewClientFromConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Memory.QueryCacheTTL = "1m"

	client, err := core.NewClient(cfg)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.Equal(t, 384, client.Dimensions())
	assert.Equal(t, core.DefaultCollection, client.Collection())

	cfg.VectorStore.Provider = "redis"
	_, err = core.NewClient(cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
