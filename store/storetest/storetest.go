// Package storetest provides a reusable conformance suite for anything
// shaped like a content-addressed store: put/get round-trips, idempotent
// put, and has/miss semantics. Both the package store and the tree store
// are exercised through it from their own test files.
package storetest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// Subject is the minimal surface a store-like type must expose to run the
// suite: put a fixture directory under a key, fetch it back, and report
// presence.
type Subject interface {
	Has(key string) bool
	Put(ctx context.Context, key, srcDir string) error
	Get(ctx context.Context, key, dstDir string) (bool, error)
}

// WriteFixture creates a small directory tree under t.TempDir() suitable
// for exercising put/get: a package.json, a nested lib file, and a
// relative symlink.
func WriteFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"fixture","version":"1.0.0"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "index.js"), []byte("module.exports = 1"), 0o644))
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink("index.js", filepath.Join(dir, "lib", "main.js")))
	}
	return dir
}

// TestSuite runs the shared conformance checks against a freshly
// constructed Subject, identified by key.
func TestSuite(t *testing.T, key string, newSubject func() Subject) {
	t.Run("MissingEntryReportsNotFound", func(t *testing.T) {
		s := newSubject()
		require.False(t, s.Has(key))
		ok, err := s.Get(context.Background(), key, t.TempDir())
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("PutThenGetRoundTrips", func(t *testing.T) {
		s := newSubject()
		src := WriteFixture(t)

		require.NoError(t, s.Put(context.Background(), key, src))
		require.True(t, s.Has(key))

		dst := t.TempDir()
		ok, err := s.Get(context.Background(), key, dst)
		require.NoError(t, err)
		require.True(t, ok)

		content, err := os.ReadFile(filepath.Join(dst, "lib", "index.js"))
		require.NoError(t, err)
		require.Equal(t, "module.exports = 1", string(content))
	})

	t.Run("PutTwiceIsIdempotent", func(t *testing.T) {
		s := newSubject()
		src := WriteFixture(t)

		require.NoError(t, s.Put(context.Background(), key, src))
		require.NoError(t, s.Put(context.Background(), key, src))
		require.True(t, s.Has(key))
	})
}
