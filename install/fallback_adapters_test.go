package install

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/internal/compressutil"
	"github.com/flashpack/flashpack/snapshot"
	"github.com/flashpack/flashpack/store"
)

func TestPackageCacheAdapterReportsLocatedVersions(t *testing.T) {
	ps, err := store.NewPackageStore(context.Background(), t.TempDir(), store.Options{
		CompressionFormat: compressutil.Gzip,
		CompressionLevel:  compressutil.DefaultLevel,
	})
	require.NoError(t, err)

	pid := flashpack.PackageID{Name: "lodash", Version: "4.17.21"}
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.js"), []byte("x"), 0o644))
	require.NoError(t, ps.Put(context.Background(), pid, src))

	adapter := packageCacheAdapter{store: ps}
	_, ok := adapter.HasExact(pid)
	require.True(t, ok)
	require.Equal(t, []string{"4.17.21"}, adapter.AvailableVersions("lodash"))
	require.Empty(t, adapter.AvailableVersions("left-pad"))
}

func TestSnapshotAdapterReadsMetadataSidecar(t *testing.T) {
	project := t.TempDir()
	deps := flashpack.DependencySet{"lodash": "4.17.21"}
	fp := flashpack.Fingerprint{TreeHash: deps.Hash()}
	snapPath := filepath.Join(project, snapshot.DefaultArchiveName)

	noopUploader := nullUploader{}
	require.NoError(t, snapshot.Create(context.Background(), project, deps, fp, snapPath, noopUploader, snapshot.Options{}))

	adapter := snapshotAdapter{}
	path, ok := adapter.HasExact(project, "lodash", "4.17.21")
	require.True(t, ok)
	require.Equal(t, snapPath, path)

	require.Equal(t, []string{"4.17.21"}, adapter.AvailableVersions(project, "lodash"))
	_, ok = adapter.HasExact(project, "lodash", "4.0.0")
	require.False(t, ok)
}

func TestLocalAdapterReadsMaterializedPackageJSON(t *testing.T) {
	project := t.TempDir()
	dir := filepath.Join(project, snapshot.TreeMemberName, "lodash")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest, err := json.Marshal(map[string]string{"name": "lodash", "version": "4.17.21"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), manifest, 0o644))

	adapter := localAdapter{}
	_, ok := adapter.HasExact(project, "lodash", "4.17.21")
	require.True(t, ok)
	require.Equal(t, []string{"4.17.21"}, adapter.AvailableVersions(project, "lodash"))
}

type nullUploader struct{}

func (nullUploader) Put(ctx context.Context, deps flashpack.DependencySet, srcRoot string) error {
	return nil
}
