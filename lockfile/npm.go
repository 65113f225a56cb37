package lockfile

import (
	"encoding/json"
	"strings"

	flashpack "github.com/flashpack/flashpack"
)

// npmPackageEntry mirrors the subset of a package-lock.json "packages"
// entry the resolver needs: just the resolved version.
type npmPackageEntry struct {
	Version string `json:"version,omitempty"`
}

// npmDependencyEntry mirrors the legacy (lockfileVersion <= 1) "dependencies"
// shape, which nests transitive dependencies rather than flattening them
// under node_modules-prefixed keys.
type npmDependencyEntry struct {
	Version      string                        `json:"version"`
	Dependencies map[string]npmDependencyEntry `json:"dependencies,omitempty"`
}

type npmLockfile struct {
	LockfileVersion int                           `json:"lockfileVersion,omitempty"`
	Packages        map[string]npmPackageEntry    `json:"packages,omitempty"`
	Dependencies    map[string]npmDependencyEntry `json:"dependencies,omitempty"`
}

// NpmParser parses a package-lock.json into a flat name -> version map.
// For lockfileVersion >= 2 it reads the "packages" map, keyed by
// "node_modules/<name>" paths (nested paths are also flattened, last
// write wins in map iteration order, so when the same name appears at
// several depths which version is kept is not defined; shallower entries
// are not preferred). For lockfileVersion <= 1 it walks
// the legacy nested "dependencies" tree.
type NpmParser struct{}

var _ Parser = NpmParser{}

func (NpmParser) Parse(content []byte) (map[string]string, error) {
	var lf npmLockfile
	if err := json.Unmarshal(content, &lf); err != nil {
		return nil, flashpack.ConfigError{Field: "lockfile", Reason: err.Error()}
	}

	out := make(map[string]string)

	if lf.LockfileVersion >= 2 && len(lf.Packages) > 0 {
		for path, entry := range lf.Packages {
			name := packageNameFromPath(path)
			if name == "" || entry.Version == "" {
				continue
			}
			out[name] = entry.Version
		}
		return out, nil
	}

	for name, entry := range lf.Dependencies {
		flattenNpmDependency(name, entry, out)
	}
	return out, nil
}

func packageNameFromPath(path string) string {
	idx := strings.LastIndex(path, "node_modules/")
	if idx == -1 {
		return ""
	}
	return path[idx+len("node_modules/"):]
}

func flattenNpmDependency(name string, entry npmDependencyEntry, out map[string]string) {
	if entry.Version != "" {
		out[name] = entry.Version
	}
	for childName, child := range entry.Dependencies {
		flattenNpmDependency(childName, child, out)
	}
}
