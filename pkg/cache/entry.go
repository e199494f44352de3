package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
)

// NoExpiration is the TTL reported for entries written without a TTL.
const NoExpiration time.Duration = -1

// Entry is the envelope persisted for every cached value.
type Entry struct {
	// ID is the store identifier produced by the Codec.
	ID string `json:"id"`

	// Type is the type tag the payload was serialized from.
	Type string `json:"type"`

	// Key is the primary key.
	Key string `json:"key"`

	// SubKey is set for specific entries.
	SubKey string `json:"sub_key,omitempty"`

	// Payload is the serialized value.
	Payload json.RawMessage `json:"payload"`

	// ExpiresAt is when the entry stops being visible. Nil means never.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`

	// Revision is the store revision the entry was read at.
	Revision string `json:"-"`
}

// IsExpired returns true if the entry has an expiration and now is at or past it.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// TTL returns the time left until expiration, 0 if already expired,
// or NoExpiration when the entry never expires.
func (e *Entry) TTL(now time.Time) time.Duration {
	if e.ExpiresAt == nil {
		return NoExpiration
	}
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// decodeEntry parses a stored document into an Entry.
func decodeEntry(doc docstore.Document) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(doc.Body, &e); err != nil {
		return nil, fmt.Errorf("decode entry envelope: %w", err)
	}
	if e.ID != "" && e.ID != doc.ID {
		return nil, fmt.Errorf("envelope id %q does not match document id %q", e.ID, doc.ID)
	}
	e.ID = doc.ID
	e.Revision = doc.Rev
	return &e, nil
}

// Policy stamps and evaluates expiration. Expiration is lazy: nothing runs in
// the background, readers check IsExpired and treat stale entries as absent.
type Policy struct {
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultPolicy returns a policy using the wall clock.
func DefaultPolicy() Policy {
	return Policy{Now: time.Now}
}

func (p Policy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// Stamp sets ExpiresAt to now+ttl when ttl is positive and clears it otherwise.
func (p Policy) Stamp(e *Entry, ttl time.Duration) {
	now := p.now().UTC()
	e.CreatedAt = now
	if ttl <= 0 {
		e.ExpiresAt = nil
		return
	}
	expires := now.Add(ttl)
	e.ExpiresAt = &expires
}

// IsExpired reports whether e is expired at now.
func (p Policy) IsExpired(e *Entry, now time.Time) bool {
	return e.IsExpired(now)
}

// Expired reports whether e is expired according to the policy clock.
func (p Policy) Expired(e *Entry) bool {
	return e.IsExpired(p.now())
}
