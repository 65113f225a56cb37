package store

import (
	"context"
	"time"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/internal/fingerprint"
)

// PackageStore is the content-addressed per-package cache: entries are
// keyed by a PackageID's own hash and hold one package's materialized
// files.
type PackageStore struct {
	store *Store
}

// NewPackageStore opens (or initializes) a package store rooted at root.
func NewPackageStore(ctx context.Context, root string, opts Options) (*PackageStore, error) {
	opts.Kind = "packages"
	s, err := Open(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	return &PackageStore{store: s}, nil
}

// Has reports whether pid is already cached.
func (p *PackageStore) Has(pid flashpack.PackageID) bool {
	return p.store.Has(pid.Hash().Encoded())
}

// Put stores srcDir under pid's identity. Idempotent: a no-op if pid is
// already present.
func (p *PackageStore) Put(ctx context.Context, pid flashpack.PackageID, srcDir string) error {
	return p.store.PutDir(ctx, "", pid.Hash().Encoded(), pid.Name, pid.Version, srcDir)
}

// Get materializes pid into dstDir, reporting ok=false if pid is not
// cached.
func (p *PackageStore) Get(ctx context.Context, pid flashpack.PackageID, dstDir string) (bool, error) {
	return p.store.GetDir(ctx, "", pid.Hash().Encoded(), dstDir)
}

// Stats returns aggregate counters over the package store.
func (p *PackageStore) Stats() Stats { return p.store.Stats() }

// Clean removes entries whose StoredAt is older than now-maxAge.
func (p *PackageStore) Clean(maxAge time.Duration) (int, error) {
	return p.store.Clean("", maxAge)
}

// Verify drops index entries whose on-disk state is missing or whose
// measured size diverges from the recorded size by more than 10%.
func (p *PackageStore) Verify(ctx context.Context) (int, error) {
	return p.store.Verify("")
}

// Optimize compresses large uncompressed entries and, if hardlinks are
// enabled, deduplicates identical files across entries.
func (p *PackageStore) Optimize(ctx context.Context) (int64, error) {
	return p.store.Optimize(ctx, "")
}

// ClearAll drops the entire package store.
func (p *PackageStore) ClearAll() error { return p.store.ClearAll() }

// ShardHash exposes the fingerprint/shard relationship for callers that
// need to locate an entry's on-disk path directly (diagnostics, tests).
func ShardHash(pid flashpack.PackageID) (shard, hash string) {
	return fingerprint.ShardPath(pid.Hash())
}

// Locate returns pid's on-disk entry path without materializing it,
// satisfying the fallback resolver's CacheChecker.HasExact contract.
func (p *PackageStore) Locate(pid flashpack.PackageID) (path string, ok bool) {
	return p.store.EntryPath("", pid.Hash().Encoded())
}

// VersionsByName returns every version of name currently cached,
// satisfying CacheChecker.AvailableVersions.
func (p *PackageStore) VersionsByName(name string) []string {
	return p.store.VersionsByName(name)
}
