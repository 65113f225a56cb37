package install

import (
	"encoding/json"
	"os"
	"path/filepath"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/snapshot"
	"github.com/flashpack/flashpack/store"
)

// packageCacheAdapter satisfies fallback.CacheChecker over the engine's
// package store: HasExact/AvailableVersions never materialize anything,
// they only report what's already on disk.
type packageCacheAdapter struct {
	store *store.PackageStore
}

func (a packageCacheAdapter) HasExact(pid flashpack.PackageID) (string, bool) {
	return a.store.Locate(pid)
}

func (a packageCacheAdapter) AvailableVersions(name string) []string {
	return a.store.VersionsByName(name)
}

// snapshotAdapter satisfies fallback.SnapshotChecker by reading the
// project's snapshot metadata sidecar. A snapshot holds exactly one
// version per package, so AvailableVersions returns at most one entry.
type snapshotAdapter struct {
	// pathOverride mirrors config.Configuration.SnapshotPath: when set, it
	// replaces the project-relative default snapshot filename.
	pathOverride string
}

func (a snapshotAdapter) path(projectDir string) string {
	if a.pathOverride != "" {
		return a.pathOverride
	}
	return filepath.Join(projectDir, snapshot.DefaultArchiveName)
}

func (a snapshotAdapter) HasExact(projectDir, name, version string) (string, bool) {
	meta, err := snapshot.ReadMetadata(a.path(projectDir))
	if err != nil {
		return "", false
	}
	if v, ok := meta.Dependencies[name]; ok && v == version {
		return a.path(projectDir), true
	}
	return "", false
}

func (a snapshotAdapter) AvailableVersions(projectDir, name string) []string {
	meta, err := snapshot.ReadMetadata(a.path(projectDir))
	if err != nil {
		return nil
	}
	if v, ok := meta.Dependencies[name]; ok {
		return []string{v}
	}
	return nil
}

// localAdapter satisfies fallback.LocalChecker by reading
// node_modules/<name>/package.json directly out of the project directory
// currently on disk.
type localAdapter struct{}

func (a localAdapter) HasExact(projectDir, name, version string) (string, bool) {
	dir := filepath.Join(projectDir, snapshot.TreeMemberName, name)
	v, ok := readInstalledVersion(dir)
	if ok && v == version {
		return dir, true
	}
	return "", false
}

func (a localAdapter) AvailableVersions(projectDir, name string) []string {
	dir := filepath.Join(projectDir, snapshot.TreeMemberName, name)
	if v, ok := readInstalledVersion(dir); ok {
		return []string{v}
	}
	return nil
}

// readInstalledVersion reads the "version" field out of dir/package.json,
// the cheapest way to learn what's already materialized on disk without
// consulting either store.
func readInstalledVersion(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", false
	}
	var pkg struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil || pkg.Version == "" {
		return "", false
	}
	return pkg.Version, true
}
