package install

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashpack/flashpack/config"
)

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.RegistryURL = ""

	_, err := NewEngine(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewEngineOpensStoresUnderStoreRoot(t *testing.T) {
	cfg := config.Default()
	cfg.StoreRoot = t.TempDir()

	eng, err := NewEngine(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, eng.Packages)
	require.NotNil(t, eng.Trees)
	require.NotNil(t, eng.Fallback)
	require.Equal(t, defaultRetryPolicy().MaxRetries, eng.retryPolicy.MaxRetries)
}

func TestEngineConcurrencyFallsBackToPoolDefault(t *testing.T) {
	cfg := config.Default()
	cfg.StoreRoot = t.TempDir()
	cfg.Concurrency = 0

	eng, err := NewEngine(context.Background(), cfg)
	require.NoError(t, err)
	require.Greater(t, eng.Concurrency(), 0)

	eng.Config.Concurrency = 7
	require.Equal(t, 7, eng.Concurrency())
}
