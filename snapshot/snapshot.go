// Package snapshot implements the project-level single-file archive: a
// materialized dependency directory plus a metadata sidecar, written and
// read back as one of three formats (tar.gz, tar, zip). Creation prefers
// shelling out to the platform's native archiver for speed and falls back
// to a portable, pure-Go path on any error; extraction does the same. The
// portable path is the correctness reference.
package snapshot

import (
	"archive/tar"
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/internal/dcontext"
	"github.com/flashpack/flashpack/internal/fsutil"
)

// Format identifies an archive's wire layout by the suffix used to select
// it, per the store's on-disk-layout convention of naming formats by
// extension.
type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatTar   Format = "tar"
	FormatZip   Format = "zip"
)

// MetadataName is the archive member holding the sidecar JSON.
const MetadataName = ".flashpack-metadata.json"

// TreeMemberName is the archive member holding the materialized directory.
const TreeMemberName = "node_modules"

// DefaultArchiveName is the filename create() uses under a project root
// when out_path is unspecified.
const DefaultArchiveName = ".flashpack"

// Metadata is the sidecar JSON schema embedded at the archive root.
type Metadata struct {
	Dependencies flashpack.DependencySet `json:"dependencies"`
	Timestamp    int64                   `json:"timestamp"` // ms since epoch
	Format       Format                  `json:"format"`
	Fingerprint  fingerprintJSON         `json:"fingerprint"`
}

// fingerprintJSON mirrors flashpack.Fingerprint with hex digest strings,
// matching the wire schema rather than the Go-level digest.Digest type.
type fingerprintJSON struct {
	TreeHash     string `json:"tree_hash"`
	LockfileHash string `json:"lockfile_hash,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// DetectFormat maps a path's suffix to a Format, defaulting to FormatTarGz
// when unrecognized.
func DetectFormat(path string) Format {
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(path, ".tar"):
		return FormatTar
	case strings.HasSuffix(path, ".zip"):
		return FormatZip
	default:
		return FormatTarGz
	}
}

// Options configures Create.
type Options struct {
	Format           Format
	CompressionLevel int // 1..9; 0 selects the default, 6
	UploadTimeout    time.Duration
}

func (o Options) normalized() Options {
	if o.Format == "" {
		o.Format = FormatTarGz
	}
	if o.CompressionLevel == 0 {
		o.CompressionLevel = 6
	}
	if o.UploadTimeout == 0 {
		o.UploadTimeout = 30 * time.Second
	}
	return o
}

// TreeUploader is the optional collaborator Create uses to also push the
// materialized tree into the tree store; failures here are logged as
// warnings and never fail Create.
type TreeUploader interface {
	Put(ctx context.Context, deps flashpack.DependencySet, srcRoot string) error
}

// Create produces a single-file archive at outPath (or, when outPath is
// empty, "<project>/.flashpack" for tar.gz and "<project>/.flashpack.<format>"
// for the other formats) containing the
// project's node_modules directory and a metadata sidecar describing deps
// and fp. If uploader is non-nil, it also attempts to push node_modules
// into the tree store, bounded by opts.UploadTimeout; that step is
// best-effort and never fails Create.
func Create(ctx context.Context, project string, deps flashpack.DependencySet, fp flashpack.Fingerprint, outPath string, uploader TreeUploader, opts Options) error {
	opts = opts.normalized()
	if outPath == "" {
		outPath = filepath.Join(project, DefaultArchiveName)
		if opts.Format != FormatTarGz {
			outPath += "." + string(opts.Format)
		}
	}

	depDir := filepath.Join(project, TreeMemberName)
	meta := buildMetadata(deps, fp, opts.Format)

	if uploader != nil {
		// Detached so the tree-store write survives the caller's context
		// being canceled once the foreground install/snapshot path
		// returns; it is still bounded by its own UploadTimeout.
		uploadCtx, cancel := context.WithTimeout(dcontext.DetachedContext(ctx), opts.UploadTimeout)
		err := uploader.Put(uploadCtx, deps, depDir)
		cancel()
		if err != nil {
			dcontext.GetLogger(ctx).Warnf("snapshot: tree store upload skipped: %v", err)
		}
	}

	staging := outPath + ".tmp-" + fmt.Sprintf("%d", time.Now().UnixNano())
	if err := writeArchive(ctx, staging, depDir, meta, opts); err != nil {
		os.Remove(staging)
		return err
	}
	return fsutil.RenameIntoPlace(staging, outPath)
}

func buildMetadata(deps flashpack.DependencySet, fp flashpack.Fingerprint, format Format) Metadata {
	createdAt := fp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	m := Metadata{
		Dependencies: deps,
		Timestamp:    createdAt.UnixMilli(),
		Format:       format,
		Fingerprint: fingerprintJSON{
			TreeHash:  fp.TreeHash.String(),
			CreatedAt: createdAt.UnixMilli(),
		},
	}
	if fp.LockfileHash != nil {
		m.Fingerprint.LockfileHash = fp.LockfileHash.String()
	}
	return m
}

func writeArchive(ctx context.Context, outPath, depDir string, meta Metadata, opts Options) error {
	if err := writeArchiveNative(ctx, outPath, depDir, meta, opts); err == nil {
		return nil
	} else {
		dcontext.GetLogger(ctx).Debugf("snapshot: native archiver unavailable or failed, falling back to portable path: %v", err)
	}
	return writeArchivePortable(outPath, depDir, meta, opts)
}

// writeArchiveNative shells out to tar/zip when available; any failure
// (missing binary, non-zero exit) is reported so the caller retries with
// the portable path.
func writeArchiveNative(ctx context.Context, outPath, depDir string, meta Metadata, opts Options) error {
	metaPath := filepath.Join(filepath.Dir(depDir), MetadataName)
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err != nil {
		return err
	}
	defer os.Remove(metaPath)

	root := filepath.Dir(depDir)
	treeName := filepath.Base(depDir)

	var cmd *exec.Cmd
	switch opts.Format {
	case FormatTarGz:
		if _, err := exec.LookPath("tar"); err != nil {
			return err
		}
		cmd = exec.CommandContext(ctx, "tar", "-czf", outPath, "-C", root, MetadataName, treeName)
	case FormatTar:
		if _, err := exec.LookPath("tar"); err != nil {
			return err
		}
		cmd = exec.CommandContext(ctx, "tar", "-cf", outPath, "-C", root, MetadataName, treeName)
	case FormatZip:
		if _, err := exec.LookPath("zip"); err != nil {
			return err
		}
		// zip runs with cwd = root, so the output path must not be
		// reinterpreted relative to it.
		absOut, err := filepath.Abs(outPath)
		if err != nil {
			return err
		}
		cmd = exec.CommandContext(ctx, "zip", "-qr", absOut, MetadataName, treeName)
		cmd.Dir = root
	default:
		return fmt.Errorf("unsupported format %q", opts.Format)
	}
	return cmd.Run()
}

func writeArchivePortable(outPath, depDir string, meta Metadata, opts Options) (err error) {
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return flashpack.IoError{Path: outPath, Err: err}
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	switch opts.Format {
	case FormatZip:
		return writeZip(f, metaBytes, depDir, opts)
	case FormatTarGz:
		gz, gerr := gzip.NewWriterLevel(f, opts.CompressionLevel)
		if gerr != nil {
			return gerr
		}
		defer gz.Close()
		return writeTar(gz, metaBytes, depDir)
	default: // FormatTar
		return writeTar(f, metaBytes, depDir)
	}
}

func writeTar(w io.Writer, metaBytes []byte, depDir string) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	if err := tw.WriteHeader(&tar.Header{Name: MetadataName, Mode: 0o644, Size: int64(len(metaBytes))}); err != nil {
		return err
	}
	if _, err := tw.Write(metaBytes); err != nil {
		return err
	}

	paths, err := treeMembers(depDir)
	if err != nil {
		return err
	}
	for _, rel := range paths {
		full := filepath.Join(depDir, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(TreeMemberName, rel))

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(full)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, link)
			if err != nil {
				return err
			}
			hdr.Name = name
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
		case info.IsDir():
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
		default:
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			data, err := os.Open(full)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, data)
			data.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeZip(w io.Writer, metaBytes []byte, depDir string, opts Options) error {
	zw := zip.NewWriter(w)
	defer zw.Close()
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flateWriter(out, opts.CompressionLevel)
	})

	mw, err := zw.Create(MetadataName)
	if err != nil {
		return err
	}
	if _, err := mw.Write(metaBytes); err != nil {
		return err
	}

	paths, err := treeMembers(depDir)
	if err != nil {
		return err
	}
	for _, rel := range paths {
		full := filepath.Join(depDir, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(TreeMemberName, rel))

		if info.IsDir() {
			if _, err := zw.Create(name + "/"); err != nil {
				return err
			}
			continue
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(full)
			if err != nil {
				return err
			}
			entryW, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			if _, err := entryW.Write([]byte(link)); err != nil {
				return err
			}
			continue
		}

		entryW, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		data, err := os.Open(full)
		if err != nil {
			return err
		}
		_, err = io.Copy(entryW, data)
		data.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// treeMembers lists depDir's contents relative to depDir, in sorted
// order, excluding any nested node_modules/*/node_modules directory per
// the archive schema.
func treeMembers(depDir string) ([]string, error) {
	if _, err := os.Stat(depDir); os.IsNotExist(err) {
		return nil, nil
	}
	var out []string
	err := filepath.Walk(depDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == depDir {
			return nil
		}
		rel, err := filepath.Rel(depDir, path)
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == TreeMemberName && filepath.Dir(rel) != "." {
			return filepath.SkipDir
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// IsValid opens the archive, extracts only the metadata member, and
// reports whether its Fingerprint matches fp.
func IsValid(path string, fp flashpack.Fingerprint) bool {
	meta, err := readMetadata(path)
	if err != nil {
		return false
	}
	if meta.Fingerprint.TreeHash != fp.TreeHash.String() {
		return false
	}
	if meta.Fingerprint.LockfileHash != "" && fp.LockfileHash != nil {
		return meta.Fingerprint.LockfileHash == fp.LockfileHash.String()
	}
	return true
}

// ReadMetadata extracts and parses the metadata entry without touching the
// rest of the archive.
func ReadMetadata(path string) (Metadata, error) {
	return readMetadata(path)
}

func readMetadata(path string) (Metadata, error) {
	format := DetectFormat(path)
	var data []byte
	var err error
	switch format {
	case FormatZip:
		data, err = readZipMember(path, MetadataName)
	default:
		data, err = readTarMember(path, format, MetadataName)
	}
	if err != nil {
		return Metadata{}, err
	}

	var meta Metadata
	if jerr := json.Unmarshal(data, &meta); jerr != nil {
		return Metadata{}, flashpack.ConfigError{Field: "snapshot.metadata", Reason: jerr.Error()}
	}
	return meta, nil
}

func readTarMember(filePath string, format Format, member string) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, flashpack.IoError{Path: filePath, Err: err}
	}
	defer f.Close()

	var r io.Reader = f
	if format == FormatTarGz {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, flashpack.ExtractError{Err: err}
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, flashpack.NotFoundError{URL: member}
		}
		if err != nil {
			return nil, flashpack.ExtractError{Err: err}
		}
		if path.Clean(hdr.Name) == member {
			return io.ReadAll(tr)
		}
	}
}

func readZipMember(filePath, member string) ([]byte, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, flashpack.IoError{Path: filePath, Err: err}
	}
	defer zr.Close()

	for _, f := range zr.File {
		if path.Clean(f.Name) == member {
			rc, err := f.Open()
			if err != nil {
				return nil, flashpack.ExtractError{Err: err}
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, flashpack.NotFoundError{URL: member}
}

// Restore extracts the archive at path (or "<project>/.flashpack" when
// path is empty) into project, removing any existing node_modules first.
// Native extraction is attempted first; any failure falls back to the
// portable path.
func Restore(ctx context.Context, project, path string) error {
	if path == "" {
		path = filepath.Join(project, DefaultArchiveName)
	}

	depDir := filepath.Join(project, TreeMemberName)
	if err := fsutil.Remove(depDir); err != nil {
		return flashpack.IoError{Path: depDir, Err: err}
	}

	if err := restoreNative(ctx, path, project); err == nil {
		return nil
	} else {
		dcontext.GetLogger(ctx).Debugf("snapshot: native extractor unavailable or failed, falling back to portable path: %v", err)
	}
	return restorePortable(path, project)
}

func restoreNative(ctx context.Context, path, project string) error {
	format := DetectFormat(path)
	var cmd *exec.Cmd
	switch format {
	case FormatTarGz:
		if _, err := exec.LookPath("tar"); err != nil {
			return err
		}
		cmd = exec.CommandContext(ctx, "tar", "-xzf", path, "-C", project)
	case FormatTar:
		if _, err := exec.LookPath("tar"); err != nil {
			return err
		}
		cmd = exec.CommandContext(ctx, "tar", "-xf", path, "-C", project)
	case FormatZip:
		if _, err := exec.LookPath("unzip"); err != nil {
			return err
		}
		cmd = exec.CommandContext(ctx, "unzip", "-qo", path, "-d", project)
	}
	return cmd.Run()
}

func restorePortable(path, project string) error {
	format := DetectFormat(path)
	if format == FormatZip {
		return restoreZip(path, project)
	}

	f, err := os.Open(path)
	if err != nil {
		return flashpack.IoError{Path: path, Err: err}
	}
	defer f.Close()

	var r io.Reader = f
	if format == FormatTarGz {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return flashpack.ExtractError{Err: err}
		}
		defer gz.Close()
		r = gz
	}
	return extractTar(r, project)
}

func extractTar(r io.Reader, project string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return flashpack.ExtractError{Err: err}
		}

		target, err := safeJoin(project, hdr.Name)
		if err != nil {
			return flashpack.ExtractError{Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return flashpack.ExtractError{Err: err}
			}
		case tar.TypeSymlink:
			os.MkdirAll(filepath.Dir(target), 0o755)
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return flashpack.ExtractError{Err: err}
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return flashpack.ExtractError{Err: err}
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return flashpack.ExtractError{Err: err}
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return flashpack.ExtractError{Err: err}
			}
		}
	}
}

func restoreZip(path, project string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return flashpack.IoError{Path: path, Err: err}
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := safeJoin(project, f.Name)
		if err != nil {
			return flashpack.ExtractError{Err: err}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return flashpack.ExtractError{Err: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return flashpack.ExtractError{Err: err}
		}

		rc, err := f.Open()
		if err != nil {
			return flashpack.ExtractError{Err: err}
		}

		if f.Mode()&os.ModeSymlink != 0 {
			data, rerr := io.ReadAll(rc)
			rc.Close()
			if rerr != nil {
				return flashpack.ExtractError{Err: rerr}
			}
			os.Remove(target)
			if err := os.Symlink(string(data), target); err != nil {
				return flashpack.ExtractError{Err: err}
			}
			continue
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
		if err != nil {
			rc.Close()
			return flashpack.ExtractError{Err: err}
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return flashpack.ExtractError{Err: err}
		}
	}
	return nil
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, name)
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) && target != filepath.Clean(root) {
		return "", fmt.Errorf("archive entry escapes extraction root: %s", name)
	}
	return target, nil
}

func flateWriter(out io.Writer, level int) (io.WriteCloser, error) {
	return flate.NewWriter(out, level)
}
