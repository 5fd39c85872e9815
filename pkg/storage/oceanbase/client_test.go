package oceanbase_test

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
	"github.com/orion-hub/orion-memory-go/pkg/storage/oceanbase"
	"github.com/orion-hub/orion-memory-go/pkg/storage/storagetest"
)

func setupOceanBaseTest(t *testing.T) storage.VectorStore {
	host := os.Getenv("OCEANBASE_HOST")
	if host == "" {
		t.Skip("Skipping OceanBase test: OCEANBASE_HOST not set")
	}

	port, _ := strconv.Atoi(os.Getenv("OCEANBASE_PORT"))
	if port == 0 {
		port = 2881
	}

	store, err := oceanbase.NewClient(&oceanbase.Config{
		Host:     host,
		Port:     port,
		User:     os.Getenv("OCEANBASE_USER"),
		Password: os.Getenv("OCEANBASE_PASSWORD"),
		DBName:   os.Getenv("OCEANBASE_DATABASE"),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOceanBaseClient_Conformance(t *testing.T) {
	storagetest.Run(t, setupOceanBaseTest)
}
