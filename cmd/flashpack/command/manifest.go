package command

import (
	"encoding/json"
	"os"
	"path/filepath"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/lockfile"
)

// resolveDependencies reads project/package.json's dependencies, then
// overlays whichever lockfile is present so the install engine always
// receives exact, already-resolved versions rather than ranges. It returns
// the raw lockfile bytes too, so the caller can fold them into a
// Fingerprint's lockfile hash.
func resolveDependencies(project string) (flashpack.DependencySet, []byte, error) {
	manifestPath := filepath.Join(project, "package.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, nil, flashpack.IoError{Path: manifestPath, Err: err}
	}

	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, flashpack.ConfigError{Field: "package.json", Reason: err.Error()}
	}

	deps := flashpack.DependencySet{}
	for name, version := range manifest.Dependencies {
		deps[name] = version
	}
	for name, version := range manifest.DevDependencies {
		if _, exists := deps[name]; !exists {
			deps[name] = version
		}
	}

	lockBytes, resolved, ok := parseLockfile(project)
	if ok {
		for name, version := range resolved {
			deps[name] = version
		}
	}
	return deps, lockBytes, nil
}

// parseLockfile tries npm's package-lock.json first, then pnpm's
// pnpm-lock.yaml, returning the raw bytes and the flattened name->version
// resolution of whichever one is present.
func parseLockfile(project string) ([]byte, map[string]string, bool) {
	candidates := []struct {
		name   string
		parser lockfile.Parser
	}{
		{"package-lock.json", lockfile.NpmParser{}},
		{"pnpm-lock.yaml", lockfile.PnpmParser{}},
	}

	for _, c := range candidates {
		path := filepath.Join(project, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		resolved, err := c.parser.Parse(data)
		if err != nil {
			continue
		}
		return data, resolved, true
	}
	return nil, nil, false
}
