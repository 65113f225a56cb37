package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDirIdempotent(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "a", "b", "c")

	require.NoError(t, EnsureDir(p))
	require.NoError(t, EnsureDir(p))

	info, err := os.Stat(p)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestCopyPreservesExecBitAndSymlink(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "dst")

	require.NoError(t, os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "readme.txt"), []byte("hi"), 0o644))
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink("readme.txt", filepath.Join(src, "link.txt")))
	}

	require.NoError(t, Copy(src, dst, false, nil))

	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	if runtime.GOOS != "windows" {
		target, err := os.Readlink(filepath.Join(dst, "link.txt"))
		require.NoError(t, err)
		require.Equal(t, "readme.txt", target)
	}
}

func TestCopyWithHardlinkOptionCopiesFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("data"), 0o644))

	require.NoError(t, Copy(filepath.Join(src, "f.txt"), filepath.Join(dst, "f.txt"), true, nil))

	content, err := os.ReadFile(filepath.Join(dst, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "data", string(content))
}

func TestSizeSumsRegularFilesOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("12345"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("67"), 0o644))

	size, err := Size(root)
	require.NoError(t, err)
	require.Equal(t, int64(7), size)
}

func TestAllFilesReturnsRelativePaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("y"), 0o644))

	files, err := AllFiles(root)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", filepath.Join("sub", "b.txt")}, files)
}

func TestRemoveIdempotentOnMissingPath(t *testing.T) {
	require.NoError(t, Remove(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestAtomicReplaceLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "metadata.json")

	require.NoError(t, AtomicReplace(dst, []byte(`{"a":1}`), 0o644))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "metadata.json", entries[0].Name())
}

func TestRenameIntoPlaceReplacesExisting(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "entry")
	staging := filepath.Join(root, "staging")

	require.NoError(t, os.Mkdir(dst, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "old.txt"), []byte("old"), 0o644))

	require.NoError(t, os.Mkdir(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "new.txt"), []byte("new"), 0o644))

	require.NoError(t, RenameIntoPlace(staging, dst))

	content, err := os.ReadFile(filepath.Join(dst, "new.txt"))
	require.NoError(t, err)
	require.Equal(t, "new", string(content))

	_, err = os.Stat(filepath.Join(dst, "old.txt"))
	require.True(t, os.IsNotExist(err))
}
