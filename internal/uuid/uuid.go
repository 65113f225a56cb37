// Package uuid names the engine's scratch resources: staging directories,
// temp files awaiting a rename-for-commit, and install batch ids.
package uuid

import (
	"github.com/google/uuid"
)

// NewString returns a new V7 UUID string. V7 UUIDs are time-ordered, which
// keeps sibling scratch names sortable by creation. Panics on error to
// maintain compatibility with google/uuid's NewString().
func NewString() string {
	return uuid.Must(uuid.NewV7()).String()
}
