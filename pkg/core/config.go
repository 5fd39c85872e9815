package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/orion-hub/orion-memory-go/pkg/chunker"
	"github.com/orion-hub/orion-memory-go/pkg/secondary"
)

// Config contains the complete configuration for a memory client.
//
// It includes settings for:
//   - Embedding provider (for vector generation)
//   - Vector store (for memory persistence)
//   - Memory defaults (collection, chunk size, search limit, query cache)
//   - Secondary persistence (optional)
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-ada-002",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "qdrant",
//	        Config: map[string]interface{}{
//	            "host": "localhost",
//	            "port": 6334,
//	        },
//	    },
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// Memory contains façade defaults.
	Memory MemoryConfig `json:"memory"`

	// Secondary contains best-effort secondary persistence configuration (optional).
	Secondary *SecondaryConfig `json:"secondary,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, qwen, hash
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, qwen, hash).
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-ada-002", "text-embedding-v4").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536, 384).
	Dimensions int `json:"dimensions,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: chromem, qdrant, sqlite, postgres, oceanbase
type VectorStoreConfig struct {
	// Provider is the vector store provider name.
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For chromem: path, compress
	// For Qdrant: host, port, api_key, use_tls
	// For SQLite: db_path
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode, hnsw
	// For OceanBase: host, port, user, password, db_name, hnsw
	Config map[string]interface{} `json:"config"`
}

// MemoryConfig contains the façade defaults.
type MemoryConfig struct {
	// Collection is the default collection (default: orion_memory).
	Collection string `json:"collection,omitempty"`

	// MaxChunkChars bounds chunk length (default: 2000).
	MaxChunkChars int `json:"max_chunk_chars,omitempty"`

	// DefaultLimit is the search limit when none is given (default: 5).
	DefaultLimit int `json:"default_limit,omitempty"`

	// MinScore is the search score floor when none is given (default: 0).
	MinScore float64 `json:"min_score,omitempty"`

	// QueryCacheTTL is a duration string such as "5m". Empty or "0" disables
	// the query-embedding cache.
	QueryCacheTTL string `json:"query_cache_ttl,omitempty"`
}

// SecondaryConfig contains configuration for best-effort secondary persistence.
type SecondaryConfig struct {
	// Enabled turns secondary persistence on.
	Enabled bool `json:"enabled"`

	// Driver is "postgres" or "sqlite".
	Driver string `json:"driver"`

	// DSN is the Postgres connection string or the SQLite file path.
	DSN string `json:"dsn"`

	// Types restricts which memory types are copied (default: secondary.DefaultTypes).
	Types []string `json:"types,omitempty"`
}

// DefaultConfig returns a configuration that runs without external
// services: an in-memory chromem store and the hash embedder.
func DefaultConfig() *Config {
	cfg := &Config{
		Embedder:    EmbedderConfig{Provider: "hash"},
		VectorStore: VectorStoreConfig{Provider: "chromem", Config: map[string]interface{}{}},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - MEMORY_STORE_PROVIDER (chromem, qdrant, sqlite, postgres, oceanbase)
//   - CHROMEM_PATH, CHROMEM_COMPRESS
//   - QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY, QDRANT_USE_TLS
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - MEMORY_COLLECTION, MEMORY_MAX_CHUNK_CHARS, MEMORY_DEFAULT_LIMIT, MEMORY_MIN_SCORE,
//     MEMORY_QUERY_CACHE_TTL
//   - SECONDARY_ENABLED, SECONDARY_DRIVER, SECONDARY_POSTGRES_DSN, SECONDARY_SQLITE_PATH,
//     SECONDARY_TYPES
//
// Returns a Config instance, or an error if a numeric variable does not parse.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	env := &envReader{}
	provider := getEnvOrDefault("MEMORY_STORE_PROVIDER", "chromem")

	var storeConfig map[string]interface{}
	switch provider {
	case "chromem":
		storeConfig = map[string]interface{}{
			"path":     os.Getenv("CHROMEM_PATH"),
			"compress": env.boolean("CHROMEM_COMPRESS", false),
		}
	case "qdrant":
		storeConfig = map[string]interface{}{
			"host":    getEnvOrDefault("QDRANT_HOST", "localhost"),
			"port":    env.integer("QDRANT_PORT", 6334),
			"api_key": os.Getenv("QDRANT_API_KEY"),
			"use_tls": env.boolean("QDRANT_USE_TLS", false),
		}
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./orion_memory.db"),
		}
	case "postgres":
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     env.integer("POSTGRES_PORT", 5432),
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "orion"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
			"hnsw":     env.boolean("POSTGRES_HNSW", false),
		}
	case "oceanbase":
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":     env.integer("OCEANBASE_PORT", 2881),
			"user":     getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password": os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":  getEnvOrDefault("OCEANBASE_DATABASE", "orion"),
			"hnsw":     env.boolean("OCEANBASE_HNSW", false),
		}
	default:
		storeConfig = map[string]interface{}{}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "hash")
	defaultDims := 1536
	if embedderProvider == "hash" {
		defaultDims = 384
	}

	config := &Config{
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: env.integer("EMBEDDING_DIMS", defaultDims),
		},
		VectorStore: VectorStoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Memory: MemoryConfig{
			Collection:    getEnvOrDefault("MEMORY_COLLECTION", DefaultCollection),
			MaxChunkChars: env.integer("MEMORY_MAX_CHUNK_CHARS", chunker.DefaultMaxChunkChars),
			DefaultLimit:  env.integer("MEMORY_DEFAULT_LIMIT", 5),
			MinScore:      env.float("MEMORY_MIN_SCORE", 0),
			QueryCacheTTL: getEnvOrDefault("MEMORY_QUERY_CACHE_TTL", "5m"),
		},
	}

	// Secondary persistence (optional)
	if env.boolean("SECONDARY_ENABLED", false) {
		sc := &SecondaryConfig{
			Enabled: true,
			Driver:  getEnvOrDefault("SECONDARY_DRIVER", "postgres"),
			Types:   splitList(os.Getenv("SECONDARY_TYPES")),
		}
		if sc.Driver == "sqlite" {
			sc.DSN = getEnvOrDefault("SECONDARY_SQLITE_PATH", "./orion_entries.db")
		} else {
			sc.DSN = os.Getenv("SECONDARY_POSTGRES_DSN")
		}
		config.Secondary = sc
	}

	if env.err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", env.err)
	}
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Omitted memory
// settings take their defaults.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}
	config.applyDefaults()

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that:
//   - Embedder and vector store providers are specified and known
//   - Dimensions are not negative
//   - Chunk size and default limit are positive
//   - The query cache TTL parses
//   - An enabled secondary store has a driver and DSN
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	switch c.Embedder.Provider {
	case "openai", "qwen", "hash":
	case "":
		return invalid("embedder provider is required")
	default:
		return invalid("unknown embedder provider %q", c.Embedder.Provider)
	}
	if c.Embedder.Dimensions < 0 {
		return invalid("embedder dimensions must not be negative")
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant", "sqlite", "postgres", "oceanbase":
	case "":
		return invalid("vector store provider is required")
	default:
		return invalid("unknown vector store provider %q", c.VectorStore.Provider)
	}

	if c.Memory.MaxChunkChars <= 0 {
		return invalid("max chunk chars must be positive")
	}
	if c.Memory.DefaultLimit <= 0 {
		return invalid("default limit must be positive")
	}
	if _, err := c.Memory.cacheTTL(); err != nil {
		return invalid("query cache ttl: %v", err)
	}

	if s := c.Secondary; s != nil && s.Enabled {
		if s.Driver != "postgres" && s.Driver != "sqlite" {
			return invalid("unknown secondary driver %q", s.Driver)
		}
		if s.DSN == "" {
			return invalid("secondary dsn is required")
		}
	}
	return nil
}

// applyDefaults fills unset memory settings.
func (c *Config) applyDefaults() {
	if c.Memory.Collection == "" {
		c.Memory.Collection = DefaultCollection
	}
	if c.Memory.MaxChunkChars == 0 {
		c.Memory.MaxChunkChars = chunker.DefaultMaxChunkChars
	}
	if c.Memory.DefaultLimit == 0 {
		c.Memory.DefaultLimit = 5
	}
	if c.VectorStore.Config == nil {
		c.VectorStore.Config = map[string]interface{}{}
	}
	if c.Secondary != nil && len(c.Secondary.Types) == 0 {
		c.Secondary.Types = append([]string(nil), secondary.DefaultTypes...)
	}
}

// cacheTTL parses QueryCacheTTL. Empty means disabled.
func (m MemoryConfig) cacheTTL() (time.Duration, error) {
	if m.QueryCacheTTL == "" || m.QueryCacheTTL == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(m.QueryCacheTTL)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and keeps the first parse error.
type envReader struct {
	err error
}

func (r *envReader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return f
}

func (r *envReader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	// First check the current directory
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	// Check project root directory (search upward)
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
