package store

import (
	"time"

	"github.com/flashpack/flashpack/internal/compressutil"
)

// Entry is one record in a store's metadata index: either a package entry
// keyed by a package's own hash, or a tree entry keyed by a whole
// dependency set's hash. Both shapes share this type; Name and Version are
// empty for tree entries.
type Entry struct {
	Hash              string              `json:"hash"`
	Name              string              `json:"name,omitempty"`
	Version           string              `json:"version,omitempty"`
	StoredAt          time.Time           `json:"stored_at"`
	Size              int64               `json:"size"`
	OriginalSize      int64               `json:"original_size,omitempty"`
	Compressed        bool                `json:"compressed"`
	CompressionFormat compressutil.Format `json:"compression_format,omitempty"`
	CompressionLevel  int                 `json:"compression_level,omitempty"`
	IntegrityHash     string              `json:"integrity_hash,omitempty"`
}

// index is the on-disk metadata.json shape: a flat hash→entry map.
type index struct {
	Entries map[string]*Entry `json:"entries"`
}

func newIndex() *index {
	return &index{Entries: make(map[string]*Entry)}
}
