package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/internal/compressutil"
	"github.com/flashpack/flashpack/store/storetest"
)

type packageStoreAdapter struct {
	s   *PackageStore
	pid flashpack.PackageID
}

func (a packageStoreAdapter) Has(string) bool { return a.s.Has(a.pid) }
func (a packageStoreAdapter) Put(ctx context.Context, _, srcDir string) error {
	return a.s.Put(ctx, a.pid, srcDir)
}
func (a packageStoreAdapter) Get(ctx context.Context, _, dstDir string) (bool, error) {
	return a.s.Get(ctx, a.pid, dstDir)
}

func newTestPackageStore(t *testing.T) *PackageStore {
	t.Helper()
	root := t.TempDir()
	s, err := NewPackageStore(context.Background(), root, Options{
		CompressionFormat: compressutil.Gzip,
		CompressionLevel:  compressutil.DefaultLevel,
		Integrity:         true,
		CacheSize:         64,
	})
	require.NoError(t, err)
	return s
}

func TestPackageStoreConformance(t *testing.T) {
	pid := flashpack.PackageID{Name: "lodash", Version: "4.17.21"}
	storetest.TestSuite(t, pid.Hash().Encoded(), func() storetest.Subject {
		return packageStoreAdapter{s: newTestPackageStore(t), pid: pid}
	})
}

func TestPackageStorePutUsesCompressionOverThreshold(t *testing.T) {
	s := newTestPackageStore(t)
	pid := flashpack.PackageID{Name: "big-pkg", Version: "1.0.0"}

	src := t.TempDir()
	big := make([]byte, 20*1024)
	require.NoError(t, os.WriteFile(filepath.Join(src, "payload.bin"), big, 0o644))

	require.NoError(t, s.Put(context.Background(), pid, src))

	shard, hash := ShardHash(pid)
	require.Len(t, shard, 2)
	require.NotEmpty(t, hash)
	_, err := os.Stat(entryPath(s.store.root, "", hash, compressutil.Gzip.Ext()))
	require.NoError(t, err)

	dst := t.TempDir()
	ok, err := s.Get(context.Background(), pid, dst)
	require.NoError(t, err)
	require.True(t, ok)

	content, err := os.ReadFile(filepath.Join(dst, "payload.bin"))
	require.NoError(t, err)
	require.Len(t, content, len(big))
}

func TestPackageStoreCleanRemovesOldEntries(t *testing.T) {
	s := newTestPackageStore(t)
	pid := flashpack.PackageID{Name: "lodash", Version: "4.17.21"}
	src := storetest.WriteFixture(t)

	require.NoError(t, s.Put(context.Background(), pid, src))

	removed, err := s.Clean(-time.Hour) // "older than now+1h": removes everything
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, s.Has(pid))
}

func TestPackageStoreVerifyDropsMissingEntries(t *testing.T) {
	s := newTestPackageStore(t)
	pid := flashpack.PackageID{Name: "lodash", Version: "4.17.21"}
	src := storetest.WriteFixture(t)
	require.NoError(t, s.Put(context.Background(), pid, src))

	_, hash := ShardHash(pid)
	require.NoError(t, os.RemoveAll(entryPath(s.store.root, "", hash, "")))

	removed, err := s.Verify(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, removed) // the entry's files are gone, so its index record is dropped
}
