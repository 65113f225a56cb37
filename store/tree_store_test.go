package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/internal/compressutil"
	"github.com/flashpack/flashpack/store/storetest"
)

type treeStoreAdapter struct {
	s    *TreeStore
	deps flashpack.DependencySet
}

func (a treeStoreAdapter) Has(string) bool { return a.s.Has(a.deps) }
func (a treeStoreAdapter) Put(ctx context.Context, _, srcDir string) error {
	return a.s.Put(ctx, a.deps, srcDir)
}
func (a treeStoreAdapter) Get(ctx context.Context, _, dstDir string) (bool, error) {
	return a.s.Get(ctx, a.deps, dstDir)
}

func newTestTreeStore(t *testing.T) *TreeStore {
	t.Helper()
	root := t.TempDir()
	s, err := NewTreeStore(context.Background(), root, Options{
		CompressionFormat: compressutil.Gzip,
		CompressionLevel:  compressutil.DefaultLevel,
	})
	require.NoError(t, err)
	return s
}

func TestTreeStoreConformance(t *testing.T) {
	deps := flashpack.DependencySet{"lodash": "4.17.21"}
	storetest.TestSuite(t, deps.Hash().Encoded(), func() storetest.Subject {
		return treeStoreAdapter{s: newTestTreeStore(t), deps: deps}
	})
}

func TestTreeStorePutSkipsHiddenAndSelfNamedDir(t *testing.T) {
	s := newTestTreeStore(t)
	deps := flashpack.DependencySet{"lodash": "4.17.21"}

	root := t.TempDir()
	nodeModules := filepath.Join(root, "node_modules")
	require.NoError(t, os.MkdirAll(filepath.Join(nodeModules, "lodash"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nodeModules, "lodash", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(nodeModules, ".bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nodeModules, ".bin", "tool"), []byte("x"), 0o644))
	// A nested directory sharing the root's own name must be skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(nodeModules, "node_modules", "nested"), 0o755))

	require.NoError(t, s.Put(context.Background(), deps, nodeModules))

	dst := t.TempDir()
	ok, err := s.Get(context.Background(), deps, dst)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = os.Stat(filepath.Join(dst, "lodash", "index.js"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dst, ".bin"))
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(dst, "node_modules"))
	require.True(t, os.IsNotExist(err))
}
