// Package store implements the content-addressed, optionally compressed
// and deduplicated on-disk cache shared by the package store and the tree
// store: a directory of sharded entries plus a single metadata.json index,
// written with rename-for-commit semantics so concurrent puts converge
// without corruption.
package store

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	arc "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/flashpack/flashpack/internal/compressutil"
	"github.com/flashpack/flashpack/internal/dcontext"
	"github.com/flashpack/flashpack/internal/fsutil"
	"github.com/flashpack/flashpack/internal/metrics"
	"github.com/flashpack/flashpack/internal/uuid"
)

// compressThreshold is the size above which Put chooses a compressed
// entry, per the store's put contract.
const compressThreshold = 10 * 1024

// optimizeCompressThreshold is the size above which optimize compresses an
// existing uncompressed entry.
const optimizeCompressThreshold = 50 * 1024

// dedupMinFileSize is the minimum per-file size optimize considers for
// hardlink deduplication.
const dedupMinFileSize = 4 * 1024

// sizeDriftTolerance is the fraction by which a measured size may diverge
// from its recorded size before verify drops the entry.
const sizeDriftTolerance = 0.10

// Options configures a Store's behavior. All fields map directly onto the
// configuration surface described for the engine: compression format and
// level, whether integrity hashes are computed, and whether hardlinks are
// used when placing entries into or out of the store.
type Options struct {
	Kind               string // "packages" or "trees": labels Stats, metrics, logs and config.json
	CompressionFormat  compressutil.Format
	CompressionLevel   int
	DisableCompression bool // configuration.Compression.Enabled == false
	Integrity          bool
	Hardlink           bool
	CacheSize          int // in-process hot index cache entries; 0 disables
}

// Store is a sharded, compressed, deduplicated content-addressed cache
// rooted at a directory. One Store instance backs either the package
// store or the tree store; both share this implementation.
type Store struct {
	root string
	opts Options

	mu  sync.Mutex // serializes index writes
	idx *index

	hot *arc.ARCCache[string, *Entry]
}

// Open loads (or initializes) a Store rooted at root.
func Open(ctx context.Context, root string, opts Options) (*Store, error) {
	if opts.CompressionFormat == "" {
		opts.CompressionFormat = compressutil.Gzip
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = compressutil.DefaultLevel
	}
	if err := fsutil.EnsureDir(root); err != nil {
		return nil, err
	}

	s := &Store{root: root, opts: opts, idx: newIndex()}

	if opts.CacheSize > 0 {
		cache, err := arc.NewARC[string, *Entry](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		s.hot = cache
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	if err := s.writeConfig(); err != nil {
		return nil, err
	}

	dcontext.GetLogger(ctx).Debugf("opened %s store at %s (%d entries)", opts.Kind, root, len(s.idx.Entries))
	return s, nil
}

func (s *Store) indexPath() string  { return filepath.Join(s.root, "metadata.json") }
func (s *Store) configPath() string { return filepath.Join(s.root, "config.json") }

// storeConfig is the config.json sidecar recording the options a store was
// created with, so a later process (or an operator inspecting the cache)
// can tell how entries under this root were written.
type storeConfig struct {
	Kind              string              `json:"kind"`
	CompressionFormat compressutil.Format `json:"compression_format"`
	CompressionLevel  int                 `json:"compression_level"`
	Integrity         bool                `json:"integrity"`
	Hardlink          bool                `json:"hardlink"`
}

func (s *Store) writeConfig() error {
	data, err := json.MarshalIndent(storeConfig{
		Kind:              s.opts.Kind,
		CompressionFormat: s.opts.CompressionFormat,
		CompressionLevel:  s.opts.CompressionLevel,
		Integrity:         s.opts.Integrity,
		Hardlink:          s.opts.Hardlink,
	}, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicReplace(s.configPath(), data, 0o644)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	idx := newIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil //nolint:nilerr // a corrupt index starts empty rather than aborting the engine
	}
	s.idx = idx
	return nil
}

func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicReplace(s.indexPath(), data, 0o644)
}

// entryPath returns the on-disk location for hash under the given kind
// subdirectory ("packages" or "trees"), with ext appended for compressed
// entries (empty for an uncompressed directory entry).
func entryPath(root, kind, hash, ext string) string {
	xx := hash
	if len(xx) > 2 {
		xx = xx[:2]
	}
	name := hash
	if ext != "" {
		name = hash + "." + ext
	}
	return filepath.Join(root, kind, xx, name)
}

// Has reports whether hash is present in the index.
func (s *Store) Has(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.idx.Entries[hash]
	return ok
}

func (s *Store) lookup(hash string) (*Entry, bool) {
	if s.hot != nil {
		if e, ok := s.hot.Get(hash); ok {
			return e, true
		}
	}
	s.mu.Lock()
	e, ok := s.idx.Entries[hash]
	s.mu.Unlock()
	if ok && s.hot != nil {
		s.hot.Add(hash, e)
	}
	return e, ok
}

// PutDir stores srcDir under hash in kind's subtree, idempotently: if an
// entry for hash already exists, PutDir is a no-op. name/version are
// recorded in the index, where VersionsByName reads them (empty for tree
// entries).
func (s *Store) PutDir(ctx context.Context, kind, hash, name, version string, srcDir string) error {
	if s.Has(hash) {
		return nil
	}

	size, err := fsutil.Size(srcDir)
	if err != nil {
		return err
	}

	var integrityHash string
	if s.opts.Integrity {
		integrityHash, err = computeIntegrityHash(srcDir)
		if err != nil {
			return err
		}
	}

	entry := &Entry{
		Hash:          hash,
		Name:          name,
		Version:       version,
		StoredAt:      time.Now(),
		IntegrityHash: integrityHash,
	}

	if size > compressThreshold && !s.opts.DisableCompression {
		dst := entryPath(s.root, kind, hash, s.opts.CompressionFormat.Ext())
		if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
			return err
		}
		// Unique per call: two PutDir calls racing on the same hash (two
		// orchestrators sharing a store) must never write the same tmp
		// file, or one's compressor output corrupts the other's.
		tmp := dst + ".tmp-" + uuid.NewString()
		if err := writeCompressed(tmp, s.opts.CompressionFormat, s.opts.CompressionLevel, srcDir); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, dst); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		compSize, _ := fileSize(dst)
		entry.Compressed = true
		entry.CompressionFormat = s.opts.CompressionFormat
		entry.CompressionLevel = s.opts.CompressionLevel
		entry.OriginalSize = size
		entry.Size = compSize
	} else {
		dst := entryPath(s.root, kind, hash, "")
		if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
			return err
		}
		// Unique per call, same reasoning as the compressed tmp path above:
		// a shared ".staging" name would let two concurrent copies into it
		// interleave before either is renamed into place.
		staging := dst + ".staging-" + uuid.NewString()
		if err := fsutil.Copy(srcDir, staging, s.opts.Hardlink, nil); err != nil {
			_ = os.RemoveAll(staging)
			return err
		}
		if err := fsutil.RenameIntoPlace(staging, dst); err != nil {
			_ = os.RemoveAll(staging)
			// A concurrent PutDir for the same hash can promote its own
			// complete copy between this call's remove and rename; that
			// entry stands in for this one.
			if _, statErr := os.Stat(dst); statErr != nil {
				return err
			}
		}
		entry.Size = size
	}

	s.mu.Lock()
	s.idx.Entries[hash] = entry
	err = s.saveIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.hot != nil {
		s.hot.Add(hash, entry)
	}
	metrics.StorePuts(s.opts.Kind).Inc()
	return nil
}

// GetDir materializes the entry for hash into dstDir. It reports ok=false
// if no such entry exists.
func (s *Store) GetDir(ctx context.Context, kind, hash string, dstDir string) (ok bool, err error) {
	entry, found := s.lookup(hash)
	if !found {
		metrics.StoreMisses(s.opts.Kind).Inc()
		return false, nil
	}
	metrics.StoreHits(s.opts.Kind).Inc()

	if !entry.Compressed {
		src := entryPath(s.root, kind, hash, "")
		if err := fsutil.Copy(src, dstDir, s.opts.Hardlink, nil); err != nil {
			return false, err
		}
		return true, nil
	}

	src := entryPath(s.root, kind, hash, entry.CompressionFormat.Ext())
	if _, statErr := os.Stat(src); statErr != nil {
		return false, nil
	}

	f, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := compressutil.ReadTree(f, entry.CompressionFormat, dstDir); err != nil {
		return false, err
	}

	if s.opts.Integrity && entry.IntegrityHash != "" {
		actual, hashErr := computeIntegrityHash(dstDir)
		if hashErr == nil && actual != entry.IntegrityHash {
			dcontext.GetLogger(ctx).Warnf("integrity mismatch restoring %s: expected %s, got %s", hash, entry.IntegrityHash, actual)
		}
	}
	return true, nil
}

// EntryPath returns the on-disk location recorded for hash under kind,
// plus whether an index entry exists for it at all. It does not touch the
// filesystem; callers that need existence confirmation use Has/GetDir.
func (s *Store) EntryPath(kind, hash string) (path string, ok bool) {
	entry, found := s.lookup(hash)
	if !found {
		return "", false
	}
	ext := ""
	if entry.Compressed {
		ext = entry.CompressionFormat.Ext()
	}
	return entryPath(s.root, kind, hash, ext), true
}

// VersionsByName returns every version currently stored for name, in no
// particular order. Used only by the fallback resolver's
// allow-version-fallback path, so a linear scan of the index is
// acceptable: it runs once per miss, not on the install hot path.
func (s *Store) VersionsByName(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var versions []string
	for _, e := range s.idx.Entries {
		if e.Name == name {
			versions = append(versions, e.Version)
		}
	}
	return versions
}

// Stats summarizes the store's current contents.
type Stats struct {
	Entries  int
	Size     int64
	Packages int
	Trees    int
	Oldest   time.Time
	Newest   time.Time
	AvgSize  int64
}

// Stats returns aggregate counters over the index.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, e := range s.idx.Entries {
		st.Entries++
		st.Size += e.Size
		if st.Oldest.IsZero() || e.StoredAt.Before(st.Oldest) {
			st.Oldest = e.StoredAt
		}
		if e.StoredAt.After(st.Newest) {
			st.Newest = e.StoredAt
		}
	}
	if s.opts.Kind == "trees" {
		st.Trees = st.Entries
	} else {
		st.Packages = st.Entries
	}
	if st.Entries > 0 {
		st.AvgSize = st.Size / int64(st.Entries)
	}
	return st
}

// Clean removes entries whose StoredAt is older than now-maxAge, returning
// the count removed.
func (s *Store) Clean(kind string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for hash, e := range s.idx.Entries {
		if e.StoredAt.Before(cutoff) {
			if err := s.removeEntryFiles(kind, hash, e); err != nil {
				return removed, err
			}
			delete(s.idx.Entries, hash)
			if s.hot != nil {
				s.hot.Remove(hash)
			}
			removed++
		}
	}
	if removed > 0 {
		if err := s.saveIndexLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Verify drops index entries whose on-disk state is missing or whose
// measured size diverges from the recorded size by more than
// sizeDriftTolerance (10%).
func (s *Store) Verify(kind string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for hash, e := range s.idx.Entries {
		measured, err := s.measureEntrySize(kind, hash, e)
		if err == nil && measured >= 0 && !driftExceeds(measured, e.Size) {
			continue
		}
		if err := s.removeEntryFiles(kind, hash, e); err != nil {
			return removed, err
		}
		delete(s.idx.Entries, hash)
		if s.hot != nil {
			s.hot.Remove(hash)
		}
		removed++
	}
	if removed > 0 {
		if err := s.saveIndexLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func driftExceeds(measured, recorded int64) bool {
	if recorded == 0 {
		return measured != 0
	}
	diff := measured - recorded
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(recorded) > sizeDriftTolerance
}

func (s *Store) measureEntrySize(kind, hash string, e *Entry) (int64, error) {
	if e.Compressed {
		p := entryPath(s.root, kind, hash, e.CompressionFormat.Ext())
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return -1, nil
		}
		if err != nil {
			return -1, err
		}
		return info.Size(), nil
	}
	p := entryPath(s.root, kind, hash, "")
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return -1, nil
	}
	return fsutil.Size(p)
}

func (s *Store) removeEntryFiles(kind, hash string, e *Entry) error {
	ext := ""
	if e.Compressed {
		ext = e.CompressionFormat.Ext()
	}
	return fsutil.Remove(entryPath(s.root, kind, hash, ext))
}

// Optimize performs two exclusive-access passes: compress uncompressed
// entries above the optimize threshold (keeping the compressed form only
// if it saves bytes), then — if hardlinks are enabled — deduplicate
// identical files across uncompressed entries via SHA-1 and hardlinking.
// It returns the total bytes saved.
func (s *Store) Optimize(ctx context.Context, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var saved int64

	for hash, e := range s.idx.Entries {
		if e.Compressed || e.Size <= optimizeCompressThreshold || s.opts.DisableCompression {
			continue
		}
		srcDir := entryPath(s.root, kind, hash, "")
		dst := entryPath(s.root, kind, hash, s.opts.CompressionFormat.Ext())
		tmp := dst + ".tmp"
		if err := writeCompressed(tmp, s.opts.CompressionFormat, s.opts.CompressionLevel, srcDir); err != nil {
			_ = os.Remove(tmp)
			continue
		}
		compSize, _ := fileSize(tmp)
		if compSize >= e.Size {
			_ = os.Remove(tmp)
			continue
		}
		if err := os.Rename(tmp, dst); err != nil {
			_ = os.Remove(tmp)
			continue
		}
		if err := fsutil.Remove(srcDir); err != nil {
			dcontext.GetLogger(ctx).Warnf("optimize: failed to remove uncompressed source for %s: %v", hash, err)
		}
		saved += e.Size - compSize
		e.Compressed = true
		e.CompressionFormat = s.opts.CompressionFormat
		e.CompressionLevel = s.opts.CompressionLevel
		e.OriginalSize = e.Size
		e.Size = compSize
	}

	if s.opts.Hardlink {
		dedupSaved, err := s.dedupLocked(kind)
		if err != nil {
			return saved, err
		}
		saved += dedupSaved
	}

	if err := s.saveIndexLocked(); err != nil {
		return saved, err
	}
	return saved, nil
}

// dedupLocked hardlinks duplicate files (by SHA-1, size >= dedupMinFileSize)
// across every uncompressed entry. Caller holds s.mu.
func (s *Store) dedupLocked(kind string) (int64, error) {
	type fileLoc struct {
		path string
		size int64
	}
	seen := make(map[string]fileLoc)
	var saved int64

	hashes := make([]string, 0, len(s.idx.Entries))
	for h := range s.idx.Entries {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	for _, hash := range hashes {
		e := s.idx.Entries[hash]
		if e.Compressed {
			continue
		}
		entryDir := entryPath(s.root, kind, hash, "")
		files, err := fsutil.AllFiles(entryDir)
		if err != nil {
			continue
		}
		for _, rel := range files {
			full := filepath.Join(entryDir, rel)
			info, err := os.Lstat(full)
			if err != nil || info.Mode()&os.ModeSymlink != 0 || info.Size() < dedupMinFileSize {
				continue
			}
			sum, err := sha1FileHash(full)
			if err != nil {
				continue
			}
			if existing, ok := seen[sum]; ok {
				if existing.size == info.Size() {
					_ = os.Remove(full)
					if err := os.Link(existing.path, full); err == nil {
						saved += info.Size()
						continue
					}
				}
			}
			seen[sum] = fileLoc{path: full, size: info.Size()}
		}
	}
	return saved, nil
}

// ClearAll drops the entire store: every entry on disk and the index.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsutil.Remove(s.root); err != nil {
		return err
	}
	if err := fsutil.EnsureDir(s.root); err != nil {
		return err
	}
	s.idx = newIndex()
	if s.hot != nil {
		s.hot.Purge()
	}
	if err := s.saveIndexLocked(); err != nil {
		return err
	}
	return s.writeConfig()
}

func writeCompressed(dst string, format compressutil.Format, level int, srcDir string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	return compressutil.WriteTree(out, format, level, srcDir)
}

func fileSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func sha1FileHash(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// computeIntegrityHash computes SHA256(concat over sorted files of
// relative_path_bytes || file_contents), matching the content hash used to
// detect post-extraction corruption.
func computeIntegrityHash(dir string) (string, error) {
	files, err := fsutil.AllFiles(dir)
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		h.Write([]byte(filepath.ToSlash(rel)))
		f, err := os.Open(filepath.Join(dir, rel))
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
