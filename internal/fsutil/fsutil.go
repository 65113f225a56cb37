// Package fsutil implements the atomic copy/link/remove primitives every
// store and snapshot operation is built on: idempotent directory creation,
// a recursive copy that prefers hardlinks and falls back to streaming,
// recursive size and delete, and a rename-for-commit helper that makes
// writes to the store's on-disk layout atomic under the final name.
package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/flashpack/flashpack/internal/uuid"
)

// EnsureDir creates p and any missing parents. It is a no-op if p already
// exists as a directory.
func EnsureDir(p string) error {
	return os.MkdirAll(p, 0o777)
}

// Remove recursively deletes p. It is idempotent: a missing path is not an
// error.
func Remove(p string) error {
	err := os.RemoveAll(p)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Size returns the sum of the sizes of every regular file reachable under
// p. Symlinks are not followed and do not contribute their target's size.
func Size(p string) (int64, error) {
	var total int64
	err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

// AllFiles returns the paths of every regular file under p, relative to p.
// The order is unspecified but stable within one call; symlinks are
// listed by their own path but not traversed as directories.
func AllFiles(p string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(p, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return files, nil
}

// ProgressFunc is invoked after each file is copied, with the number of
// bytes just written. Copy never aborts because of a reporter error; it is
// purely observational.
type ProgressFunc func(delta int64)

// Copy recursively copies src into dst. When preferHardlink is set, a
// regular file becomes a hardlink if src and dst share a device; on
// cross-device pairs or when the filesystem rejects the link, Copy falls
// back to a streaming copy transparently. Executable bits are preserved;
// symlinks are recreated as symlinks and never dereferenced.
func Copy(src, dst string, preferHardlink bool, progress ProgressFunc) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	return copyEntry(src, dst, info, preferHardlink, progress)
}

func copyEntry(src, dst string, info os.FileInfo, preferHardlink bool, progress ProgressFunc) error {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return copySymlink(src, dst)
	case info.IsDir():
		return copyDir(src, dst, preferHardlink, progress)
	default:
		return copyFile(src, dst, info, preferHardlink, progress)
	}
}

func copyDir(src, dst string, preferHardlink bool, progress ProgressFunc) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		entryInfo, err := os.Lstat(srcPath)
		if err != nil {
			return err
		}
		if err := copyEntry(srcPath, dstPath, entryInfo, preferHardlink, progress); err != nil {
			return err
		}
	}
	return nil
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	_ = os.Remove(dst)
	return os.Symlink(target, dst)
}

func copyFile(src, dst string, info os.FileInfo, preferHardlink bool, progress ProgressFunc) error {
	if preferHardlink {
		_ = os.Remove(dst)
		if err := os.Link(src, dst); err == nil {
			if progress != nil {
				progress(info.Size())
			}
			return nil
		}
		// Cross-device or unsupported filesystem: fall through to streaming.
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp-" + uuid.NewString()
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	n, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		return errors.Join(copyErr, closeErr)
	}
	if progress != nil {
		progress(n)
	}

	if err := os.Chmod(tmp, info.Mode().Perm()); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// AtomicReplace writes content to a temp path alongside dst and renames it
// into place, so a reader of dst never observes a partial write. The
// sibling temp file is removed on any failure before the rename.
func AtomicReplace(dst string, content []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	tmp := dst + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, content, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// RenameIntoPlace promotes a staging directory or file to its final path
// atomically via rename, removing anything already at dst first. Used to
// promote a fetcher's staging directory and a store's compressed archive
// into their final cache locations.
func RenameIntoPlace(staging, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := Remove(dst); err != nil {
		return err
	}
	return os.Rename(staging, dst)
}
