// Package registryfetch resolves a tarball URL for a resolved package
// identity, streams it to a temp file, extracts it into a staging
// directory, and returns that staging directory for the caller to promote.
// It never retries on its own; retry policy lives with the caller (the
// install orchestrator's retry loop).
package registryfetch

import (
	"archive/tar"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/internal/dcontext"
	"github.com/flashpack/flashpack/internal/fsutil"
	"github.com/flashpack/flashpack/internal/uuid"
)

// DefaultRegistryURL is the registry base used when none is configured,
// matching the public npm registry.
const DefaultRegistryURL = "https://registry.npmjs.org"

// Fetcher downloads and extracts one package at a time from an npm-layout
// registry.
type Fetcher struct {
	RegistryURL string
	Client      *http.Client
	TempDir     string
}

// New constructs a Fetcher. An empty registryURL defaults to
// DefaultRegistryURL; a nil client defaults to http.DefaultClient.
func New(registryURL string, client *http.Client) *Fetcher {
	if registryURL == "" {
		registryURL = DefaultRegistryURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{RegistryURL: registryURL, Client: client}
}

// TarballURL constructs the tarball URL for pid following npm registry
// layout: scoped packages (@scope/name) have their slash encoded as %2F in
// the package path segment, but not in the filename.
func (f *Fetcher) TarballURL(pid flashpack.PackageID) string {
	base := strings.TrimRight(f.RegistryURL, "/")
	encodedName := strings.ReplaceAll(pid.Name, "/", "%2F")

	unscopedName := pid.Name
	if idx := strings.LastIndex(pid.Name, "/"); idx >= 0 {
		unscopedName = pid.Name[idx+1:]
	}

	filename := fmt.Sprintf("%s-%s.tgz", unscopedName, pid.Version)
	return fmt.Sprintf("%s/%s/-/%s", base, encodedName, filename)
}

// Fetch downloads, verifies, and extracts pid, returning the path to the
// materialized package directory under a fresh temp root. The caller is
// responsible for promoting or discarding the returned directory.
func (f *Fetcher) Fetch(ctx context.Context, pid flashpack.PackageID, expectedSHA1 string) (dir string, err error) {
	log := dcontext.GetLogger(dcontext.WithRegistryURL(ctx, f.RegistryURL), "package")
	tarballURL := f.TarballURL(pid)

	tempRoot, err := os.MkdirTemp("", "flashpack-fetch-"+uuid.NewString())
	if err != nil {
		return "", flashpack.IoError{Path: os.TempDir(), Err: err}
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tempRoot)
		}
	}()

	tarballPath := filepath.Join(tempRoot, "package.tgz")
	if err := f.download(ctx, tarballURL, tarballPath, expectedSHA1, pid); err != nil {
		return "", err
	}
	defer os.Remove(tarballPath)

	staging := filepath.Join(tempRoot, "staging")
	if err := extractTarball(tarballPath, staging, pid); err != nil {
		return "", err
	}

	log.Debugf("fetched %s to %s", pid, staging)
	return staging, nil
}

func (f *Fetcher) download(ctx context.Context, tarballURL, dst, expectedSHA1 string, pid flashpack.PackageID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, nil)
	if err != nil {
		return flashpack.NetworkError{URL: tarballURL, Err: err}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return flashpack.NetworkError{URL: tarballURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return flashpack.NotFoundError{PackageID: pid, URL: tarballURL}
	}
	if resp.StatusCode >= 500 {
		return flashpack.NetworkError{URL: tarballURL, Err: fmt.Errorf("registry returned %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return flashpack.NetworkError{URL: tarballURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	out, err := os.Create(dst)
	if err != nil {
		return flashpack.IoError{Path: dst, Err: err}
	}

	hasher := sha1.New()
	_, copyErr := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return flashpack.NetworkError{URL: tarballURL, Err: copyErr}
	}
	if closeErr != nil {
		return flashpack.IoError{Path: dst, Err: closeErr}
	}

	if expectedSHA1 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if actual != expectedSHA1 {
			return flashpack.IntegrityError{PackageID: pid, Expected: expectedSHA1, Actual: actual, Fatal: true}
		}
	}
	return nil
}

// extractTarball extracts a gzip tar stream into dst, stripping the single
// leading path component every npm tarball wraps its contents in
// ("package/…").
func extractTarball(tarballPath, dst string, pid flashpack.PackageID) error {
	f, err := os.Open(tarballPath)
	if err != nil {
		return flashpack.IoError{Path: tarballPath, Err: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return flashpack.ExtractError{PackageID: pid, Err: err}
	}
	defer gz.Close()

	if err := fsutil.EnsureDir(dst); err != nil {
		return flashpack.IoError{Path: dst, Err: err}
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			_ = os.RemoveAll(dst)
			return flashpack.ExtractError{PackageID: pid, Err: err}
		}

		name := stripLeadingComponent(hdr.Name)
		if name == "" {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			_ = os.RemoveAll(dst)
			return flashpack.ExtractError{PackageID: pid, Err: fmt.Errorf("tarball entry escapes root: %s", hdr.Name)}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsutil.EnsureDir(target); err != nil {
				_ = os.RemoveAll(dst)
				return flashpack.ExtractError{PackageID: pid, Err: err}
			}
		case tar.TypeSymlink:
			if err := fsutil.EnsureDir(filepath.Dir(target)); err != nil {
				_ = os.RemoveAll(dst)
				return flashpack.ExtractError{PackageID: pid, Err: err}
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				_ = os.RemoveAll(dst)
				return flashpack.ExtractError{PackageID: pid, Err: err}
			}
		case tar.TypeReg:
			if err := fsutil.EnsureDir(filepath.Dir(target)); err != nil {
				_ = os.RemoveAll(dst)
				return flashpack.ExtractError{PackageID: pid, Err: err}
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				_ = os.RemoveAll(dst)
				return flashpack.ExtractError{PackageID: pid, Err: err}
			}
			_, copyErr := io.Copy(out, tr)
			closeErr := out.Close()
			if copyErr != nil || closeErr != nil {
				_ = os.RemoveAll(dst)
				return flashpack.ExtractError{PackageID: pid, Err: fmt.Errorf("%v %v", copyErr, closeErr)}
			}
		}
	}
}

func stripLeadingComponent(name string) string {
	name = path.Clean(name)
	idx := strings.Index(name, "/")
	if idx < 0 {
		return ""
	}
	return name[idx+1:]
}
