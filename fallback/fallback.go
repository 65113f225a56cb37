// Package fallback implements offline resolution of a dependency set
// across the package cache, the project's snapshot, and the project's
// currently materialized tree. It never downloads; it only reports, per
// package, where a usable copy (exact or version-compatible) can be found.
package fallback

import (
	"context"
	"strconv"
	"strings"

	flashpack "github.com/flashpack/flashpack"
)

// Source identifies where a FallbackResult was found.
type Source string

const (
	SourceCache    Source = "cache"
	SourceSnapshot Source = "snapshot"
	SourceLocal    Source = "local"
)

// FallbackResult is the per-package outcome of a resolution attempt.
type FallbackResult struct {
	Found        bool
	ExactVersion bool
	Source       Source
	Path         string
	Version      string
}

// CacheChecker reports whether a package at an exact version is present in
// the package store, and (for version-fallback) which versions of a name
// are present at all.
type CacheChecker interface {
	HasExact(pid flashpack.PackageID) (path string, ok bool)
	AvailableVersions(name string) []string
}

// SnapshotChecker reports whether a project's snapshot contains a name at
// an exact version, and which versions it contains at all.
type SnapshotChecker interface {
	HasExact(projectDir, name, version string) (path string, ok bool)
	AvailableVersions(projectDir, name string) []string
}

// LocalChecker reports whether a project's already-materialized directory
// contains a name at an exact version.
type LocalChecker interface {
	HasExact(projectDir, name, version string) (path string, ok bool)
	AvailableVersions(projectDir, name string) []string
}

// Flags controls which sources Resolve consults and in what combination.
type Flags struct {
	AllowVersionFallback bool
	UseCache             bool
	UseSnapshot          bool
	UseLocal             bool
	ProjectDir           string
}

// Resolver resolves a DependencySet offline using whichever collaborators
// it was constructed with.
type Resolver struct {
	Cache    CacheChecker
	Snapshot SnapshotChecker
	Local    LocalChecker
}

// Resolve returns one FallbackResult per entry in deps, keyed by package
// name. Entries are resolved in deps' sorted order; the returned map has no
// order of its own.
func (r *Resolver) Resolve(ctx context.Context, deps flashpack.DependencySet, flags Flags) map[string]FallbackResult {
	results := make(map[string]FallbackResult, len(deps))
	for _, pid := range deps.Sorted() {
		results[pid.Name] = r.resolveOne(pid, flags)
	}
	return results
}

func (r *Resolver) resolveOne(pid flashpack.PackageID, flags Flags) FallbackResult {
	if res, ok := r.tryExact(pid, flags); ok {
		return res
	}
	if flags.AllowVersionFallback {
		if res, ok := r.tryBestCompatible(pid, flags); ok {
			return res
		}
	}
	return FallbackResult{Found: false, Version: pid.Version}
}

func (r *Resolver) tryExact(pid flashpack.PackageID, flags Flags) (FallbackResult, bool) {
	if flags.UseCache && r.Cache != nil {
		if path, ok := r.Cache.HasExact(pid); ok {
			return FallbackResult{Found: true, ExactVersion: true, Source: SourceCache, Path: path, Version: pid.Version}, true
		}
	}
	if flags.UseSnapshot && r.Snapshot != nil {
		if path, ok := r.Snapshot.HasExact(flags.ProjectDir, pid.Name, pid.Version); ok {
			return FallbackResult{Found: true, ExactVersion: true, Source: SourceSnapshot, Path: path, Version: pid.Version}, true
		}
	}
	if flags.UseLocal && r.Local != nil {
		if path, ok := r.Local.HasExact(flags.ProjectDir, pid.Name, pid.Version); ok {
			return FallbackResult{Found: true, ExactVersion: true, Source: SourceLocal, Path: path, Version: pid.Version}, true
		}
	}
	return FallbackResult{}, false
}

// tryBestCompatible repeats the exact search across sources, accepting the
// highest available version per CompareVersions (whether it is above or
// below the requested one), in source precedence order cache, snapshot,
// local.
func (r *Resolver) tryBestCompatible(pid flashpack.PackageID, flags Flags) (FallbackResult, bool) {
	type candidateSource struct {
		source  Source
		lookup  func(name string) []string
		resolve func(name, version string) (string, bool)
	}

	var sources []candidateSource
	if flags.UseCache && r.Cache != nil {
		sources = append(sources, candidateSource{
			source: SourceCache,
			lookup: r.Cache.AvailableVersions,
			resolve: func(name, version string) (string, bool) {
				return r.Cache.HasExact(flashpack.PackageID{Name: name, Version: version})
			},
		})
	}
	if flags.UseSnapshot && r.Snapshot != nil {
		sources = append(sources, candidateSource{
			source:  SourceSnapshot,
			lookup:  func(name string) []string { return r.Snapshot.AvailableVersions(flags.ProjectDir, name) },
			resolve: func(name, version string) (string, bool) { return r.Snapshot.HasExact(flags.ProjectDir, name, version) },
		})
	}
	if flags.UseLocal && r.Local != nil {
		sources = append(sources, candidateSource{
			source:  SourceLocal,
			lookup:  func(name string) []string { return r.Local.AvailableVersions(flags.ProjectDir, name) },
			resolve: func(name, version string) (string, bool) { return r.Local.HasExact(flags.ProjectDir, name, version) },
		})
	}

	for _, src := range sources {
		versions := src.lookup(pid.Name)
		best := BestCompatible(pid.Version, versions)
		if best == "" {
			continue
		}
		if path, ok := src.resolve(pid.Name, best); ok {
			return FallbackResult{Found: true, ExactVersion: best == pid.Version, Source: src.source, Path: path, Version: best}, true
		}
	}
	return FallbackResult{}, false
}

// BestCompatible returns the highest version present in available under
// the simplified comparison rule, or "" if available is empty. A version
// fallback accepts any offline copy of a package — there being no higher
// version around is exactly the case the fallback exists for — so this
// does not require the candidate to be at or above requested; it only
// picks the best of what's on hand.
func BestCompatible(requested string, available []string) string {
	var best string
	for _, v := range available {
		if best == "" || CompareVersions(v, best) > 0 {
			best = v
		}
	}
	return best
}

// CompareVersions implements the deliberately simplified comparison the
// fallback resolver uses: strip a leading non-digit prefix from each
// version, then compare dot-separated integer parts left-to-right,
// treating a missing part as zero. It ignores pre-release and build
// metadata entirely; this is not semantic-version-correct comparison.
func CompareVersions(a, b string) int {
	pa := splitVersionParts(stripLeadingNonDigit(a))
	pb := splitVersionParts(stripLeadingNonDigit(b))

	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var va, vb int
		if i < len(pa) {
			va = pa[i]
		}
		if i < len(pb) {
			vb = pb[i]
		}
		if va != vb {
			if va < vb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func stripLeadingNonDigit(v string) string {
	for i, r := range v {
		if r >= '0' && r <= '9' {
			return v[i:]
		}
	}
	return v
}

func splitVersionParts(v string) []int {
	// Cut at the first run of characters that isn't digits or dots, so
	// pre-release/build suffixes ("-alpha.1", "+build5") are dropped.
	cut := strings.IndexFunc(v, func(r rune) bool {
		return !(r == '.' || (r >= '0' && r <= '9'))
	})
	if cut >= 0 {
		v = v[:cut]
	}

	fields := strings.Split(v, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			n = 0
		}
		parts = append(parts, n)
	}
	return parts
}
