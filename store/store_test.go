package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashpack/flashpack/internal/compressutil"
)

func TestOpenCreatesRootAndIsReopenable(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	s, err := Open(context.Background(), root, Options{Kind: "packages"})
	require.NoError(t, err)
	require.NoError(t, s.PutDir(context.Background(), "packages", "abc123", "demo", "1.0.0", writeSmallFixture(t)))

	reopened, err := Open(context.Background(), root, Options{Kind: "packages"})
	require.NoError(t, err)
	require.True(t, reopened.Has("abc123"))
}

func TestStatsReflectsEntries(t *testing.T) {
	s := newRawStore(t)
	require.NoError(t, s.PutDir(context.Background(), "packages", "hash-a", "a", "1.0.0", writeSmallFixture(t)))
	require.NoError(t, s.PutDir(context.Background(), "packages", "hash-b", "b", "1.0.0", writeSmallFixture(t)))

	stats := s.Stats()
	require.Equal(t, 2, stats.Entries)
	require.Greater(t, stats.Size, int64(0))
}

func TestOptimizeCompressesLargeUncompressedEntries(t *testing.T) {
	s := newRawStore(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "payload.bin"), make([]byte, 60*1024), 0o644))

	// Force an uncompressed entry by writing directly under the threshold
	// check's else branch: PutDir already compresses above 10KiB, so build
	// the scenario through Optimize's own compress pass on a pre-seeded
	// uncompressed entry.
	s.mu.Lock()
	s.idx.Entries["hash-big"] = &Entry{Hash: "hash-big", Size: int64(60 * 1024)}
	s.mu.Unlock()

	entryDir := entryPath(s.root, "packages", "hash-big", "")
	require.NoError(t, os.MkdirAll(entryDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(entryDir, "payload.bin"), make([]byte, 60*1024), 0o644))

	saved, err := s.Optimize(context.Background(), "packages")
	require.NoError(t, err)
	require.Greater(t, saved, int64(0))

	s.mu.Lock()
	entry := s.idx.Entries["hash-big"]
	s.mu.Unlock()
	require.True(t, entry.Compressed)
}

func TestClearAllEmptiesStore(t *testing.T) {
	s := newRawStore(t)
	require.NoError(t, s.PutDir(context.Background(), "packages", "hash-a", "a", "1.0.0", writeSmallFixture(t)))
	require.NoError(t, s.ClearAll())
	require.False(t, s.Has("hash-a"))
	require.Equal(t, 0, s.Stats().Entries)
}

// TestConcurrentPutSameHashConverges exercises the uncompressed PutDir path:
// two orchestrators racing to cache the same package must never interleave
// writes into a shared staging directory, and both must observe a complete,
// readable entry afterward.
func TestConcurrentPutSameHashConverges(t *testing.T) {
	s := newRawStore(t)
	const n = 8

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.PutDir(context.Background(), "packages", "shared-hash", "demo", "1.0.0", writeSmallFixture(t))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	require.True(t, s.Has("shared-hash"))
	dst := t.TempDir()
	ok, err := s.GetDir(context.Background(), "packages", "shared-hash", filepath.Join(dst, "out"))
	require.NoError(t, err)
	require.True(t, ok)

	content, err := os.ReadFile(filepath.Join(dst, "out", "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}

// TestConcurrentPutSameHashConvergesCompressed is the same race over the
// compressed PutDir path (entries above compressThreshold).
func TestConcurrentPutSameHashConvergesCompressed(t *testing.T) {
	s := newRawStore(t)
	const n = 8
	payload := make([]byte, 60*1024)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := t.TempDir()
			if err := os.WriteFile(filepath.Join(src, "payload.bin"), payload, 0o644); err != nil {
				errs[i] = err
				return
			}
			errs[i] = s.PutDir(context.Background(), "packages", "shared-hash-big", "demo", "2.0.0", src)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	require.True(t, s.Has("shared-hash-big"))
	dst := t.TempDir()
	ok, err := s.GetDir(context.Background(), "packages", "shared-hash-big", filepath.Join(dst, "out"))
	require.NoError(t, err)
	require.True(t, ok)

	content, err := os.ReadFile(filepath.Join(dst, "out", "payload.bin"))
	require.NoError(t, err)
	require.Equal(t, payload, content)
}

func newRawStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), Options{
		Kind:              "packages",
		CompressionFormat: compressutil.Gzip,
		CompressionLevel:  compressutil.DefaultLevel,
	})
	require.NoError(t, err)
	return s
}

func writeSmallFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello"), 0o644))
	return dir
}
