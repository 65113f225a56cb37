// Package compressutil implements the store's compressed entry format: a
// POSIX tar stream of a directory tree piped through either gzip or
// brotli. Both compressors are wired to real third-party implementations
// rather than the standard library alone, mirroring how the rest of the
// corpus reaches for klauspost/compress and andybalholm/brotli for this
// exact shape of work.
package compressutil

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/flashpack/flashpack/internal/fsutil"
)

// Format identifies a supported compression codec for store entries.
type Format string

const (
	Gzip   Format = "gzip"
	Brotli Format = "brotli"
)

// Ext returns the on-disk file extension associated with a Format, as used
// in the store's "<hash>.<ext>" layout.
func (f Format) Ext() string {
	switch f {
	case Brotli:
		return "br"
	default:
		return "gz"
	}
}

// DefaultLevel is the compression level used when the caller does not
// specify one, matching gzip's documented default.
const DefaultLevel = 6

// WriteTree tars every regular file and symlink under srcDir (paths stored
// relative to srcDir, in sorted order for determinism) and writes the
// result through a compressor for the given format and level to w.
func WriteTree(w io.Writer, format Format, level int, srcDir string) error {
	compressor, err := newCompressWriter(w, format, level)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(compressor)
	if err := addTree(tw, srcDir); err != nil {
		_ = tw.Close()
		_ = compressor.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		_ = compressor.Close()
		return err
	}
	return compressor.Close()
}

// ReadTree decompresses r for the given format and extracts the tar stream
// into dstDir, recreating directories, regular files (with their original
// mode bits), and symlinks.
func ReadTree(r io.Reader, format Format, dstDir string) error {
	decompressor, err := newDecompressReader(r, format)
	if err != nil {
		return err
	}
	defer decompressor.Close()

	if err := fsutil.EnsureDir(dstDir); err != nil {
		return err
	}

	tr := tar.NewReader(decompressor)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dstDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsutil.EnsureDir(target); err != nil {
				return err
			}
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := fsutil.EnsureDir(filepath.Dir(target)); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := fsutil.EnsureDir(filepath.Dir(target)); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

type compressCloser interface {
	io.WriteCloser
}

func newCompressWriter(w io.Writer, format Format, level int) (compressCloser, error) {
	switch format {
	case Brotli:
		return brotli.NewWriterLevel(w, brotliLevel(level)), nil
	case Gzip:
		gw, err := gzip.NewWriterLevel(w, gzipLevel(level))
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("compressutil: unsupported format %q", format)
	}
}

type decompressCloser interface {
	io.Reader
	Close() error
}

func newDecompressReader(r io.Reader, format Format) (decompressCloser, error) {
	switch format {
	case Brotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case Gzip:
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("compressutil: unsupported format %q", format)
	}
}

func gzipLevel(level int) int {
	if level < 1 || level > 9 {
		return DefaultLevel
	}
	return level
}

func brotliLevel(level int) int {
	if level < 1 {
		return DefaultLevel
	}
	if level > 11 {
		return 11
	}
	return level
}

func addTree(tw *tar.Writer, srcDir string) error {
	rels, err := fsutil.AllFiles(srcDir)
	if err != nil {
		return err
	}
	sort.Strings(rels)

	for _, rel := range rels {
		full := filepath.Join(srcDir, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(full)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(full)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}
