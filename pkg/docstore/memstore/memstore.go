// Package memstore provides an in-process docstore.Store.
//
// It is meant for tests and examples. Fault hooks let tests simulate an
// unavailable store for specific operations or identifiers.
package memstore

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
)

// Operation names passed to fault hooks.
const (
	OpPut    = "put"
	OpFetch  = "fetch"
	OpDelete = "delete"
	OpList   = "list"
	OpPing   = "ping"
)

// FaultFunc returns a non-nil error to make the operation on id fail.
type FaultFunc func(op, id string) error

// Store is a concurrency-safe map-backed document store.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]docstore.Document
	fault FaultFunc
	calls map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:  make(map[string]docstore.Document),
		calls: make(map[string]int),
	}
}

// SetFault installs a fault hook. Passing nil removes it.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Len returns the number of stored documents, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// begin records the call and evaluates the fault hook. Callers hold s.mu.
func (s *Store) begin(ctx context.Context, op, id string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fault != nil {
		return s.fault(op, id)
	}
	return nil
}

// Put implements docstore.Store.
func (s *Store) Put(ctx context.Context, id string, body []byte, hint docstore.RevisionHint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(ctx, OpPut, id); err != nil {
		return "", err
	}

	current, exists := s.docs[id]
	if !hint.Satisfied(current.Rev, exists) {
		return "", docstore.ErrConflict
	}

	rev := uuid.NewString()
	s.docs[id] = docstore.Document{
		ID:   id,
		Rev:  rev,
		Body: slices.Clone(body),
	}
	return rev, nil
}

// Fetch implements docstore.Store.
func (s *Store) Fetch(ctx context.Context, id string) (docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(ctx, OpFetch, id); err != nil {
		return docstore.Document{}, err
	}

	doc, ok := s.docs[id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	doc.Body = slices.Clone(doc.Body)
	return doc, nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, id string, hint docstore.RevisionHint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(ctx, OpDelete, id); err != nil {
		return err
	}

	current, exists := s.docs[id]
	if !hint.Satisfied(current.Rev, exists) {
		return docstore.ErrConflict
	}
	delete(s.docs, id)
	return nil
}

// ListByPrefix implements docstore.Store. The matching identifiers are
// snapshotted when iteration starts; documents are read as they are yielded.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) iter.Seq2[docstore.Document, error] {
	return func(yield func(docstore.Document, error) bool) {
		s.mu.Lock()
		err := s.begin(ctx, OpList, prefix)
		var ids []string
		if err == nil {
			for id := range s.docs {
				if strings.HasPrefix(id, prefix) {
					ids = append(ids, id)
				}
			}
		}
		s.mu.Unlock()

		if err != nil {
			yield(docstore.Document{}, err)
			return
		}
		slices.Sort(ids)

		for _, id := range ids {
			s.mu.RLock()
			doc, ok := s.docs[id]
			s.mu.RUnlock()
			if !ok {
				continue
			}
			doc.Body = slices.Clone(doc.Body)
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Ping implements docstore.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begin(ctx, OpPing, "")
}

var (
	_ docstore.Store  = (*Store)(nil)
	_ docstore.Pinger = (*Store)(nil)
)
