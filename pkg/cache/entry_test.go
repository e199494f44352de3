package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
)

func TestEntry_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		t := now.Add(d)
		return &t
	}

	tests := []struct {
		name    string
		expires *time.Time
		want    bool
	}{
		{name: "no expiration", expires: nil, want: false},
		{name: "expired entry", expires: at(-1 * time.Hour), want: true},
		{name: "valid entry", expires: at(1 * time.Hour), want: false},
		{name: "expires exactly now", expires: at(0), want: true},
		{name: "just before expiry", expires: at(time.Nanosecond), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{ExpiresAt: tt.expires}
			if got := entry.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(5 * time.Minute)

	tests := []struct {
		name    string
		expires *time.Time
		want    time.Duration
	}{
		{name: "never expires", expires: nil, want: NoExpiration},
		{name: "already expired", expires: &past, want: 0},
		{name: "5 minutes remaining", expires: &future, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{ExpiresAt: tt.expires}
			if got := entry.TTL(now); got != tt.want {
				t.Errorf("TTL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_Stamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{Now: func() time.Time { return now }}

	tests := []struct {
		name string
		ttl  time.Duration
		want *time.Time
	}{
		{name: "positive ttl", ttl: 5 * time.Second, want: ptrTime(now.Add(5 * time.Second))},
		{name: "zero ttl", ttl: 0, want: nil},
		{name: "negative ttl", ttl: -time.Second, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{ExpiresAt: ptrTime(now.Add(time.Hour))}
			policy.Stamp(entry, tt.ttl)

			if !entry.CreatedAt.Equal(now) {
				t.Errorf("CreatedAt = %v, want %v", entry.CreatedAt, now)
			}
			switch {
			case tt.want == nil && entry.ExpiresAt != nil:
				t.Errorf("ExpiresAt = %v, want nil", *entry.ExpiresAt)
			case tt.want != nil && (entry.ExpiresAt == nil || !entry.ExpiresAt.Equal(*tt.want)):
				t.Errorf("ExpiresAt = %v, want %v", entry.ExpiresAt, *tt.want)
			}
		})
	}
}

func TestPolicy_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{Now: func() time.Time { return now }}

	entry := &Entry{}
	policy.Stamp(entry, 5*time.Second)
	if policy.Expired(entry) {
		t.Fatal("entry should be live right after Stamp")
	}

	now = now.Add(5 * time.Second)
	if !policy.Expired(entry) {
		t.Error("entry should be expired once the clock reaches ExpiresAt")
	}
	if !policy.IsExpired(entry, now) {
		t.Error("IsExpired(now) should agree with Expired()")
	}
}

func TestDecodeEntry(t *testing.T) {
	doc := docstore.Document{
		ID:   "doccache:doc:k1",
		Rev:  "1-abc",
		Body: []byte(`{"id":"doccache:doc:k1","type":"doc","key":"k1","payload":{"key":"k1"},"created_at":"2026-01-01T00:00:00Z"}`),
	}

	entry, err := decodeEntry(doc)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if entry.Revision != "1-abc" {
		t.Errorf("Revision = %q, want 1-abc", entry.Revision)
	}
	if entry.Type != "doc" || entry.Key != "k1" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", entry.ExpiresAt)
	}

	doc.Body = []byte(`{"id":"doccache:doc:other"}`)
	if _, err := decodeEntry(doc); err == nil {
		t.Error("decodeEntry() should reject a mismatched envelope id")
	}

	doc.Body = []byte(`not json`)
	_, err = decodeEntry(doc)
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Errorf("decodeEntry() error = %v, want *json.SyntaxError", err)
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
