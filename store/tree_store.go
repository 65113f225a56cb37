package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/internal/fsutil"
)

// TreeStore is the archive-level cache keyed by a whole dependency set's
// tree hash. Unlike PackageStore it holds a flat copy of the root
// dependency directory's top-level entries, not a single package.
type TreeStore struct {
	store *Store
}

// NewTreeStore opens (or initializes) a tree store rooted at root.
func NewTreeStore(ctx context.Context, root string, opts Options) (*TreeStore, error) {
	opts.Kind = "trees"
	s, err := Open(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	return &TreeStore{store: s}, nil
}

// Has reports whether deps' tree is already cached.
func (t *TreeStore) Has(deps flashpack.DependencySet) bool {
	return t.store.Has(deps.Hash().Encoded())
}

// Put iterates the top-level entries of srcRoot and stores them under
// deps' tree hash, skipping hidden entries and any nested directory that
// shares the root directory's own name.
func (t *TreeStore) Put(ctx context.Context, deps flashpack.DependencySet, srcRoot string) error {
	hash := deps.Hash().Encoded()
	if t.store.Has(hash) {
		return nil
	}

	rootName := filepath.Base(filepath.Clean(srcRoot))
	staging, err := os.MkdirTemp("", "flashpack-tree-put-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	entries, err := os.ReadDir(srcRoot)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || e.Name() == rootName {
			continue
		}
		if err := fsutil.Copy(filepath.Join(srcRoot, e.Name()), filepath.Join(staging, e.Name()), false, nil); err != nil {
			return err
		}
	}

	return t.store.PutDir(ctx, "", hash, "", "", staging)
}

// Get restores deps' cached tree into dstRoot, preserving the top-level
// layout it was stored with.
func (t *TreeStore) Get(ctx context.Context, deps flashpack.DependencySet, dstRoot string) (bool, error) {
	return t.store.GetDir(ctx, "", deps.Hash().Encoded(), dstRoot)
}

// Stats returns aggregate counters over the tree store.
func (t *TreeStore) Stats() Stats { return t.store.Stats() }

// Clean removes entries whose StoredAt is older than now-maxAge.
func (t *TreeStore) Clean(maxAge time.Duration) (int, error) {
	return t.store.Clean("", maxAge)
}

// Verify drops index entries whose on-disk state is missing or diverges in
// size from the recorded value by more than 10%.
func (t *TreeStore) Verify(ctx context.Context) (int, error) {
	return t.store.Verify("")
}

// Optimize compresses large uncompressed entries and deduplicates files
// when hardlinks are enabled.
func (t *TreeStore) Optimize(ctx context.Context) (int64, error) {
	return t.store.Optimize(ctx, "")
}

// ClearAll drops the entire tree store.
func (t *TreeStore) ClearAll() error { return t.store.ClearAll() }
