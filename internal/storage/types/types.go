// Package types defines the data units flowing through the histkv
// adapter: change events coming in from the host and entries going back
// out of queries.
package types

import (
	"github.com/ryltsov/histkv/internal/timestamp"
)

// ChangeKind indicates the kind of a change event.
type ChangeKind int

const (
	// Put stores a new value for a key.
	Put ChangeKind = iota
	// Delete marks a key as deleted.
	Delete
	// Patch is accepted but not applied; it is reported as unsupported.
	Patch
)

// String returns a human-readable representation of the ChangeKind.
func (k ChangeKind) String() string {
	switch k {
	case Put:
		return "put"
	case Delete:
		return "delete"
	case Patch:
		return "patch"
	default:
		return "unknown"
	}
}

// Row kind tags persisted with every stored row. The tag is what query
// and reclamation filters dispatch on: a key is visible only through its
// non-DEL rows.
const (
	TagPut = "PUT"
	TagDel = "DEL"
)

// Change is a single keyed change event.
type Change struct {
	// Key is the '/'-delimited path identifying one logical record
	// stream. Keys used for writing must be non-empty and contain no
	// wildcard characters.
	Key string

	// Kind is the event kind.
	Kind ChangeKind

	// Timestamp is the causal timestamp attached to the event, used to
	// resolve out-of-order arrival.
	Timestamp timestamp.Timestamp

	// Payload carries the value for Put events; it must be empty for
	// Delete events.
	Payload []byte

	// Encoding is an opaque identifier of the payload encoding,
	// round-tripped through storage.
	Encoding int64
}

// Entry is one reconstructed query result.
type Entry struct {
	// Key is the full key, re-prefixed with the configured key prefix.
	Key string

	// Payload is the decoded stored value.
	Payload []byte

	// Encoding is the payload encoding identifier stored with the row.
	Encoding int64

	// Timestamp is the logical timestamp of the stored row.
	Timestamp timestamp.Timestamp
}
