// Package redisstore implements docstore.Store on Redis.
//
// Each document is a hash with the fields "body" and "rev" stored under
// KeyPrefix+id. Revisions are random UUIDs. Conditional writes use
// WATCH/MULTI, so a concurrent change between the revision check and the
// write aborts the transaction and surfaces as docstore.ErrConflict.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/logging"
)

const (
	fieldBody = "body"
	fieldRev  = "rev"
)

// Options configures a Store.
type Options struct {
	// KeyPrefix is prepended to every document identifier (default: "docstore:").
	KeyPrefix string

	// ScanCount is the COUNT hint for SCAN (default: 100).
	ScanCount int64

	// Logger receives store logs.
	Logger *zerolog.Logger
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		KeyPrefix: "docstore:",
		ScanCount: 100,
	}
}

// Store is a docstore.Store backed by Redis hashes.
type Store struct {
	redis  redis.UniversalClient
	opts   Options
	logger zerolog.Logger
}

// New creates a store on an existing client. The client stays owned by the caller.
func New(client redis.UniversalClient, opts Options) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	defaults := DefaultOptions()
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaults.KeyPrefix
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = defaults.ScanCount
	}

	logger := logging.NewLogger("redisstore")
	if opts.Logger != nil {
		logger = logging.Component(*opts.Logger, "redisstore")
	}

	return &Store{redis: client, opts: opts, logger: logger}, nil
}

func (s *Store) key(id string) string {
	return s.opts.KeyPrefix + id
}

// Put implements docstore.Store.
func (s *Store) Put(ctx context.Context, id string, body []byte, hint docstore.RevisionHint) (string, error) {
	key := s.key(id)
	rev := uuid.NewString()

	if hint.Unconditional() {
		if err := s.redis.HSet(ctx, key, fieldBody, body, fieldRev, rev).Err(); err != nil {
			return "", unavailable("put", id, err)
		}
		return rev, nil
	}

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		if err := s.check(ctx, tx, key, hint); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldBody, body, fieldRev, rev)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return "", s.txError("put", id, err)
	}
	return rev, nil
}

// Fetch implements docstore.Store.
func (s *Store) Fetch(ctx context.Context, id string) (docstore.Document, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return docstore.Document{}, unavailable("fetch", id, err)
	}
	if len(fields) == 0 {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Rev: fields[fieldRev], Body: []byte(fields[fieldBody])}, nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, id string, hint docstore.RevisionHint) error {
	key := s.key(id)

	if hint.Unconditional() {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			return unavailable("delete", id, err)
		}
		return nil
	}

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		if err := s.check(ctx, tx, key, hint); err != nil {
			return err
		}
		if hint.RequiresAbsent() {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return s.txError("delete", id, err)
	}
	return nil
}

// check reads the watched revision and verifies the hint against it.
func (s *Store) check(ctx context.Context, tx *redis.Tx, key string, hint docstore.RevisionHint) error {
	current, err := tx.HGet(ctx, key, fieldRev).Result()
	exists := true
	if errors.Is(err, redis.Nil) {
		exists, err = false, nil
	}
	if err != nil {
		return err
	}
	if !hint.Satisfied(current, exists) {
		return docstore.ErrConflict
	}
	return nil
}

func (s *Store) txError(op, id string, err error) error {
	switch {
	case errors.Is(err, docstore.ErrConflict):
		return docstore.ErrConflict
	case errors.Is(err, redis.TxFailedErr):
		s.logger.Debug().Str("op", op).Str("id", id).Msg("Watched key changed, transaction aborted")
		return docstore.ErrConflict
	default:
		return unavailable(op, id, err)
	}
}

// ListByPrefix implements docstore.Store with SCAN. Keys deleted between the
// scan and the read are skipped.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) iter.Seq2[docstore.Document, error] {
	return func(yield func(docstore.Document, error) bool) {
		match := escapeGlob(s.key(prefix)) + "*"
		it := s.redis.Scan(ctx, 0, match, s.opts.ScanCount).Iterator()

		seen := make(map[string]struct{})
		for it.Next(ctx) {
			key := it.Val()
			// SCAN may return a key more than once
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			doc, err := s.Fetch(ctx, strings.TrimPrefix(key, s.opts.KeyPrefix))
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			if !yield(doc, err) || err != nil {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(docstore.Document{}, unavailable("scan", prefix, err))
		}
	}
}

// Ping implements docstore.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

func unavailable(op, id string, err error) error {
	return fmt.Errorf("%w: redis %s %q: %w", docstore.ErrUnavailable, op, id, err)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the SCAN MATCH metacharacters in s.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

var (
	_ docstore.Store  = (*Store)(nil)
	_ docstore.Pinger = (*Store)(nil)
)
