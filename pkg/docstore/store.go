// Package docstore defines the document store contract consumed by the cache
// repository, together with the revision hints used for optimistic concurrency.
//
// A store addresses documents by an opaque string identifier and treats the
// document body as opaque bytes. Implementations live in sub-packages:
//
//   - couchdb: CouchDB over HTTP
//   - redisstore: Redis hashes
//   - sqlstore: SQLite via gorm
//   - dynamostore: Amazon DynamoDB
//   - memstore: in-process map, used by tests and examples
package docstore

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrNotFound is returned by Fetch when no document exists for the identifier.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a conditional write or delete does not match
	// the stored revision.
	ErrConflict = errors.New("document revision conflict")

	// ErrUnavailable marks failures to reach or use the backing store.
	ErrUnavailable = errors.New("document store unavailable")
)

// Document is a stored document as seen by the cache repository.
type Document struct {
	// ID is the canonical identifier.
	ID string

	// Rev is the store-assigned revision token.
	Rev string

	// Body is the opaque document payload.
	Body []byte
}

// Store is the set of primitives the cache repository needs from a backing store.
//
// Put and Delete must be atomic per identifier: a cancelled call either commits
// fully or not at all. ListByPrefix returns a fresh, finite scan on every call.
type Store interface {
	// Put creates or replaces the document and returns its new revision.
	Put(ctx context.Context, id string, body []byte, hint RevisionHint) (string, error)

	// Fetch returns the document or ErrNotFound.
	Fetch(ctx context.Context, id string) (Document, error)

	// Delete removes the document. Deleting an absent document is not an error
	// unless the hint requires a specific revision.
	Delete(ctx context.Context, id string, hint RevisionHint) error

	// ListByPrefix lazily yields every document whose identifier starts with prefix.
	ListByPrefix(ctx context.Context, prefix string) iter.Seq2[Document, error]
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
