package flashpack

import (
	"sort"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/flashpack/flashpack/internal/fingerprint"
)

// PackageID identifies one resolved package: an exact name and an exact,
// already-resolved version string. No range operators are ever present in
// Version — that resolution happened upstream of this engine.
type PackageID struct {
	Name    string
	Version string
}

// String returns the canonical "name@version" form used both for display
// and as the fingerprint preimage.
func (p PackageID) String() string {
	return p.Name + "@" + p.Version
}

// Hash returns the package's content-addressable fingerprint,
// sha256(name + "@" + version). It is identical across platforms,
// processes, and runs for the same (name, version) pair.
func (p PackageID) Hash() digest.Digest {
	return fingerprint.Package(p.Name, p.Version)
}

// DependencySet is the full name→version mapping to be materialized for
// one project, as produced by an (out-of-scope) lockfile parser.
type DependencySet map[string]string

// Sorted returns the set's entries as PackageIDs ordered lexicographically
// by name — the canonical order used to compute Hash and to drive
// deterministic iteration anywhere the set is walked.
func (d DependencySet) Sorted() []PackageID {
	ids := make([]PackageID, 0, len(d))
	for name, version := range d {
		ids = append(ids, PackageID{Name: name, Version: version})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Name < ids[j].Name })
	return ids
}

// Hash returns the set's tree fingerprint: sha256 over the sorted
// concatenation of "name@version\n" for every entry. It depends only on
// the set of (name, version) pairs, never on map iteration order.
func (d DependencySet) Hash() digest.Digest {
	return fingerprint.Tree(d)
}

// Fingerprint is the compact, comparable identity of a DependencySet plus
// an optional lockfile hash, recorded in a snapshot archive's metadata.
type Fingerprint struct {
	TreeHash     digest.Digest  `json:"tree_hash"`
	LockfileHash *digest.Digest `json:"lockfile_hash,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Matches reports whether two Fingerprints identify the same materialized
// state: their TreeHash must be equal, and if both sides carry a
// LockfileHash those must match too. A Fingerprint missing a LockfileHash
// never conflicts with one that has it — only a mismatch between two
// present hashes counts.
func (f Fingerprint) Matches(other Fingerprint) bool {
	if f.TreeHash != other.TreeHash {
		return false
	}
	if f.LockfileHash != nil && other.LockfileHash != nil {
		return *f.LockfileHash == *other.LockfileHash
	}
	return true
}
