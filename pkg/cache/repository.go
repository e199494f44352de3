package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/logging"
)

// Concurrency selects how Set behaves when several writers target the same key.
type Concurrency int

const (
	// LastWriterWins overwrites unconditionally; the last write the store
	// commits is the one that stays.
	LastWriterWins Concurrency = iota

	// RevisionChecked reads the current revision before writing and fails with
	// ErrWriteConflict if another writer committed in between.
	RevisionChecked
)

// String implements fmt.Stringer.
func (c Concurrency) String() string {
	switch c {
	case RevisionChecked:
		return "revision-checked"
	default:
		return "last-writer-wins"
	}
}

// Options configures a Repository.
type Options struct {
	// Namespace prefixes every identifier (default: DefaultNamespace).
	Namespace string

	// BaseType is the type tag Remove operates on (default: BaseType).
	BaseType string

	// Concurrency is the write mode (default: LastWriterWins).
	Concurrency Concurrency

	// Clock overrides time.Now for expiration.
	Clock func() time.Time

	// BackgroundTimeout bounds each background delete of an expired entry.
	BackgroundTimeout time.Duration

	// ClearConcurrency is the number of parallel deletes during Clear and PurgeExpired.
	ClearConcurrency int

	// StrictDecoding rejects payloads with fields unknown to the target type.
	StrictDecoding bool

	// Logger receives repository logs (default: component logger "repository").
	Logger *zerolog.Logger
}

// DefaultOptions returns the default repository options.
func DefaultOptions() Options {
	return Options{
		Namespace:         DefaultNamespace,
		BaseType:          BaseType,
		Concurrency:       LastWriterWins,
		BackgroundTimeout: 5 * time.Second,
		ClearConcurrency:  8,
	}
}

// Repository is a typed cache over a docstore.Store.
//
// It keeps no state between calls besides the tracking of background deletes,
// and is safe for concurrent use. The store is owned by the caller.
type Repository struct {
	store   docstore.Store
	codec   Codec
	policy  Policy
	opts    Options
	logger  zerolog.Logger
	pending sync.WaitGroup
}

// New creates a repository over store. Zero-valued options take their defaults.
func New(store docstore.Store, opts Options) (*Repository, error) {
	if store == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}

	defaults := DefaultOptions()
	if opts.Namespace == "" {
		opts.Namespace = defaults.Namespace
	}
	if opts.BaseType == "" {
		opts.BaseType = defaults.BaseType
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = defaults.BackgroundTimeout
	}
	if opts.ClearConcurrency <= 0 {
		opts.ClearConcurrency = defaults.ClearConcurrency
	}
	if !namePattern.MatchString(opts.BaseType) {
		return nil, &InvalidKeyError{Key: opts.BaseType, Reason: "base type must match " + namePattern.String()}
	}

	codec, err := NewCodec(opts.Namespace)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("repository")
	if opts.Logger != nil {
		logger = logging.Component(*opts.Logger, "repository")
	}

	return &Repository{
		store:  store,
		codec:  codec,
		policy: Policy{Now: opts.Clock},
		opts:   opts,
		logger: logger,
	}, nil
}

// Codec returns the key codec of the repository.
func (r *Repository) Codec() Codec {
	return r.codec
}

// Close waits for background deletes to finish. It does not close the store.
func (r *Repository) Close() error {
	r.pending.Wait()
	return nil
}

// Set stores value under key with an optional ttl (0 means no expiration).
// An existing entry is replaced.
func Set[T any, PT Cacheable[T]](ctx context.Context, r *Repository, value T, key string, ttl time.Duration) error {
	info, err := infoOf[T, PT]()
	if err != nil {
		return err
	}
	return set[T, PT](ctx, r, info, value, info.key(key, "", false), ttl)
}

// SetSpecific stores value under key and subKey. An empty subKey selects the
// type's default sub-key, so distinct types sharing a key never collide.
func SetSpecific[T any, PT Cacheable[T]](ctx context.Context, r *Repository, value T, key, subKey string, ttl time.Duration) error {
	info, err := infoOf[T, PT]()
	if err != nil {
		return err
	}
	return set[T, PT](ctx, r, info, value, info.key(key, subKey, true), ttl)
}

// Get returns the value stored under key. The boolean is false when the entry
// is absent or expired; absence is never an error.
func Get[T any, PT Cacheable[T]](ctx context.Context, r *Repository, key string) (T, bool, error) {
	info, err := infoOf[T, PT]()
	if err != nil {
		var zero T
		return zero, false, err
	}
	return get[T](ctx, r, info, info.key(key, "", false))
}

// GetSpecific returns the value stored under key and subKey, with the same
// default sub-key rule as SetSpecific.
func GetSpecific[T any, PT Cacheable[T]](ctx context.Context, r *Repository, key, subKey string) (T, bool, error) {
	info, err := infoOf[T, PT]()
	if err != nil {
		var zero T
		return zero, false, err
	}
	return get[T](ctx, r, info, info.key(key, subKey, true))
}

// RemoveOf deletes the non-specific entry of type T under key.
func RemoveOf[T any, PT Cacheable[T]](ctx context.Context, r *Repository, key string) error {
	info, err := infoOf[T, PT]()
	if err != nil {
		return err
	}
	return r.remove(ctx, info.key(key, "", false))
}

// RemoveSpecific deletes the specific entry of type T under key and subKey.
// It is a no-op when the entry does not exist.
func RemoveSpecific[T any, PT Cacheable[T]](ctx context.Context, r *Repository, key, subKey string) error {
	info, err := infoOf[T, PT]()
	if err != nil {
		return err
	}
	return r.remove(ctx, info.key(key, subKey, true))
}

// TTL returns the remaining lifetime of the non-specific entry of type T.
// The boolean is false when the entry is absent or expired. Entries without
// expiration report NoExpiration.
func TTL[T any, PT Cacheable[T]](ctx context.Context, r *Repository, key string) (time.Duration, bool, error) {
	info, err := infoOf[T, PT]()
	if err != nil {
		return 0, false, err
	}
	entry, err := r.load(ctx, info.key(key, "", false))
	if err != nil || entry == nil {
		return 0, false, err
	}
	return entry.TTL(r.policy.now()), true, nil
}

// GetDocCount returns the number of live entries of type T, specific or not.
func GetDocCount[T any, PT Cacheable[T]](ctx context.Context, r *Repository) (int, error) {
	defer observeDuration("count", time.Now())

	info, err := infoOf[T, PT]()
	if err != nil {
		return 0, err
	}
	prefix := r.codec.TypePrefix(info.tag)
	now := r.policy.now()

	count := 0
	for doc, err := range r.store.ListByPrefix(ctx, prefix) {
		if err != nil {
			CacheErrors.WithLabelValues("count").Inc()
			return 0, &StoreUnavailableError{Op: "list", ID: prefix, Err: err}
		}
		key, err := r.codec.Decode(doc.ID)
		if err != nil || key.Type != info.tag {
			r.logger.Debug().Err(err).Str("id", doc.ID).Msg("Skipping foreign identifier")
			continue
		}
		entry, err := decodeEntry(doc)
		if err != nil {
			r.logger.Debug().Err(err).Str("id", doc.ID).Msg("Skipping undecodable document")
			continue
		}
		if entry.IsExpired(now) {
			continue
		}
		count++
	}

	r.logger.Debug().Str("type", info.tag).Int("count", count).Msg("Counted live entries")
	return count, nil
}

// Remove deletes the non-specific entry under key in the base type scope.
// It is a no-op when the entry does not exist.
func (r *Repository) Remove(ctx context.Context, key string) error {
	return r.remove(ctx, CacheKey{Type: r.opts.BaseType, Key: key})
}

func set[T any, PT Cacheable[T]](ctx context.Context, r *Repository, info typeInfo, value T, key CacheKey, ttl time.Duration) error {
	defer observeDuration("set", time.Now())

	id, err := r.codec.Encode(key)
	if err != nil {
		return err
	}

	if ks, ok := any(PT(&value)).(KeySetter); ok {
		ks.SetCacheKey(key.Key, key.SubKey)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return &SerializationError{Type: info.tag, Err: err}
	}

	entry := Entry{
		ID:      id,
		Type:    info.tag,
		Key:     key.Key,
		Payload: payload,
	}
	if key.Specific {
		entry.SubKey = key.SubKey
	}
	r.policy.Stamp(&entry, ttl)

	body, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return &SerializationError{Type: info.tag, Err: err}
	}

	hint, err := r.writeHint(ctx, id)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	rev, err := r.store.Put(ctx, id, body, hint)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		if errors.Is(err, docstore.ErrConflict) {
			CacheConflicts.WithLabelValues(info.tag).Inc()
			return fmt.Errorf("set %q: %w", id, ErrWriteConflict)
		}
		return &StoreUnavailableError{Op: "put", ID: id, Err: err}
	}

	CacheWrites.WithLabelValues(info.tag).Inc()
	EntrySize.WithLabelValues(info.tag).Observe(float64(len(body)))

	r.logger.Debug().
		Str("id", id).
		Str("rev", rev).
		Dur("ttl", ttl).
		Msg("Stored entry")

	return nil
}

// writeHint returns the revision precondition for a write to id.
func (r *Repository) writeHint(ctx context.Context, id string) (docstore.RevisionHint, error) {
	if r.opts.Concurrency != RevisionChecked {
		return docstore.Overwrite(), nil
	}

	current, err := r.store.Fetch(ctx, id)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return docstore.IfAbsent(), nil
	case err != nil:
		return docstore.RevisionHint{}, &StoreUnavailableError{Op: "fetch", ID: id, Err: err}
	default:
		return docstore.IfMatch(current.Rev), nil
	}
}

func get[T any](ctx context.Context, r *Repository, info typeInfo, key CacheKey) (T, bool, error) {
	defer observeDuration("get", time.Now())

	var zero T

	entry, err := r.load(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if entry == nil {
		CacheMisses.WithLabelValues(info.tag).Inc()
		return zero, false, nil
	}

	var value T
	if err := r.unmarshal(entry.Payload, &value); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return zero, false, &DeserializationError{Type: info.tag, ID: entry.ID, Err: err}
	}

	CacheHits.WithLabelValues(info.tag).Inc()
	return value, true, nil
}

// load fetches and decodes the entry for key. It returns nil without error
// when the entry is absent or expired; expired entries are deleted in the
// background.
func (r *Repository) load(ctx context.Context, key CacheKey) (*Entry, error) {
	id, err := r.codec.Encode(key)
	if err != nil {
		return nil, err
	}

	doc, err := r.store.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			r.logger.Debug().Str("id", id).Msg("Cache miss")
			return nil, nil
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, &StoreUnavailableError{Op: "fetch", ID: id, Err: err}
	}

	entry, err := decodeEntry(doc)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, &DeserializationError{Type: key.Type, ID: id, Err: err}
	}
	if entry.Type != key.Type {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, &DeserializationError{
			Type: key.Type,
			ID:   id,
			Err:  fmt.Errorf("stored type %q does not match", entry.Type),
		}
	}

	if r.policy.Expired(entry) {
		CacheExpired.WithLabelValues(key.Type).Inc()
		r.logger.Debug().
			Str("id", id).
			Time("expires_at", *entry.ExpiresAt).
			Msg("Entry expired")
		r.expireAsync(ctx, id, entry.Revision)
		return nil, nil
	}

	return entry, nil
}

// expireAsync deletes an expired entry without blocking the reader. The delete
// is conditioned on the revision that was read, so an entry rewritten in the
// meantime survives. Failures are logged and counted, never returned.
func (r *Repository) expireAsync(ctx context.Context, id, rev string) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.BackgroundTimeout)

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer cancel()

		err := r.store.Delete(bg, id, docstore.IfMatch(rev))
		switch {
		case err == nil, errors.Is(err, docstore.ErrNotFound):
			LazyDeletes.WithLabelValues("deleted").Inc()
		case errors.Is(err, docstore.ErrConflict):
			LazyDeletes.WithLabelValues("superseded").Inc()
			r.logger.Debug().Str("id", id).Str("rev", rev).Msg("Expired entry was rewritten, keeping it")
		default:
			LazyDeletes.WithLabelValues("failed").Inc()
			r.logger.Warn().Err(err).Str("id", id).Msg("Failed to delete expired entry")
		}
	}()
}

func (r *Repository) remove(ctx context.Context, key CacheKey) error {
	defer observeDuration("remove", time.Now())

	id, err := r.codec.Encode(key)
	if err != nil {
		return err
	}

	err = r.store.Delete(ctx, id, docstore.Overwrite())
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		CacheErrors.WithLabelValues("delete").Inc()
		return &StoreUnavailableError{Op: "delete", ID: id, Err: err}
	}

	CacheRemoves.WithLabelValues(key.Type).Inc()
	r.logger.Debug().Str("id", id).Msg("Removed entry")
	return nil
}

func observeDuration(op string, start time.Time) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (r *Repository) unmarshal(data []byte, v any) error {
	if !r.opts.StrictDecoding {
		return json.Unmarshal(data, v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
