package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	flashpack "github.com/flashpack/flashpack"
)

func TestParseOverlaysDefaults(t *testing.T) {
	in := `
concurrency: 8
compression:
  enabled: true
  format: brotli
  level: 4
registryurl: https://registry.example.com
`
	cfg, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Concurrency)
	require.Equal(t, "brotli", cfg.Compression.Format)
	require.Equal(t, 4, cfg.Compression.Level)
	require.Equal(t, "https://registry.example.com", cfg.RegistryURL)

	// Unset fields keep their documented defaults.
	require.Equal(t, 30, cfg.CacheTimeout)
	require.True(t, cfg.AllowFallbacks)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse(strings.NewReader("concurrency: [not an int"))
	require.Error(t, err)

	var cfgErr flashpack.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestFromMapWeaklyTypedOverride(t *testing.T) {
	cfg, err := FromMap(Default(), map[string]interface{}{
		"concurrency": "12",
		"offline":     "true",
	})
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Concurrency)
	require.True(t, cfg.Offline)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FLASHPACK_CONCURRENCY", "3")
	t.Setenv("FLASHPACK_COMPRESSION_FORMAT", "brotli")
	t.Setenv("FLASHPACK_OFFLINE", "true")

	cfg := FromEnv(Default())
	require.Equal(t, 3, cfg.Concurrency)
	require.Equal(t, "brotli", cfg.Compression.Format)
	require.True(t, cfg.Offline)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Compression.Format = "zstd"
	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr flashpack.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "compression.format", cfgErr.Field)

	cfg = Default()
	cfg.RegistryURL = ""
	require.Error(t, cfg.Validate())

	require.NoError(t, Default().Validate())
}
