package graph

import "github.com/google/uuid"

// UUIDv7Generator generates time-sortable UUIDv7 local identifiers.
//
// UUIDv7 embeds a timestamp in the most significant bits, so documents
// written by one process sort roughly by creation time in the store.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
