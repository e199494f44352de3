package cache

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultNamespace prefixes every identifier written by a repository
	// unless Options.Namespace says otherwise.
	DefaultNamespace = "doccache"

	// MaxKeyBytes is the longest primary key or sub-key accepted, before escaping.
	MaxKeyBytes = 512

	separator = ":"
)

// namePattern restricts namespaces and type tags. A leading underscore is
// reserved by CouchDB for system documents.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// CacheKey is the logical address of a cache entry.
type CacheKey struct {
	// Type is the type tag of the cached document (e.g. "car").
	Type string

	// Key is the caller-supplied primary key.
	Key string

	// SubKey discriminates variants sharing a primary key. Only used when Specific is set.
	SubKey string

	// Specific marks a sub-keyed address.
	Specific bool
}

// String returns a readable, unescaped form for logs.
// Use Codec.Encode for the store identifier.
func (k CacheKey) String() string {
	if k.Specific {
		return k.Type + "/" + k.Key + "/" + k.SubKey
	}
	return k.Type + "/" + k.Key
}

// Codec maps cache keys to store identifiers and back.
//
// Format:
//
//	<namespace>:<type>:<key>            non-specific entries
//	<namespace>:<type>:<key>:<subkey>   specific entries
//
// Key and sub-key segments are escaped ('%' → "%25", ':' → "%3A") so a segment
// never contains the separator; the segment count tells the two forms apart.
//
// Example:
//
//	doccache:car:k3:sub1
type Codec struct {
	namespace string
}

// NewCodec returns a codec for the given namespace.
func NewCodec(namespace string) (Codec, error) {
	if !namePattern.MatchString(namespace) {
		return Codec{}, &InvalidKeyError{Key: namespace, Reason: "namespace must match " + namePattern.String()}
	}
	return Codec{namespace: namespace}, nil
}

// Namespace returns the codec namespace.
func (c Codec) Namespace() string {
	return c.namespace
}

// Encode returns the store identifier for k.
func (c Codec) Encode(k CacheKey) (string, error) {
	if !namePattern.MatchString(k.Type) {
		return "", &InvalidKeyError{Key: k.Type, Reason: "type tag must match " + namePattern.String()}
	}
	if err := validateSegment(k.Key, "primary key"); err != nil {
		return "", err
	}

	parts := []string{c.namespace, k.Type, segmentEscaper.Replace(k.Key)}
	if k.Specific {
		if err := validateSegment(k.SubKey, "sub-key"); err != nil {
			return "", err
		}
		parts = append(parts, segmentEscaper.Replace(k.SubKey))
	}

	return strings.Join(parts, separator), nil
}

// Decode parses an identifier produced by Encode.
func (c Codec) Decode(id string) (CacheKey, error) {
	parts := strings.Split(id, separator)
	if len(parts) != 3 && len(parts) != 4 {
		return CacheKey{}, &InvalidKeyError{Key: id, Reason: "unexpected segment count"}
	}
	if parts[0] != c.namespace {
		return CacheKey{}, &InvalidKeyError{Key: id, Reason: fmt.Sprintf("namespace %q does not match %q", parts[0], c.namespace)}
	}
	if !namePattern.MatchString(parts[1]) {
		return CacheKey{}, &InvalidKeyError{Key: id, Reason: "malformed type tag"}
	}

	key, err := unescapeSegment(parts[2])
	if err != nil {
		return CacheKey{}, &InvalidKeyError{Key: id, Reason: err.Error()}
	}

	k := CacheKey{Type: parts[1], Key: key}
	if len(parts) == 4 {
		sub, err := unescapeSegment(parts[3])
		if err != nil {
			return CacheKey{}, &InvalidKeyError{Key: id, Reason: err.Error()}
		}
		k.SubKey = sub
		k.Specific = true
	}
	return k, nil
}

// NamespacePrefix is the listing prefix covering every entry of the namespace.
func (c Codec) NamespacePrefix() string {
	return c.namespace + separator
}

// TypePrefix is the listing prefix covering every entry of one type,
// specific or not.
func (c Codec) TypePrefix(tag string) string {
	return c.namespace + separator + tag + separator
}

func validateSegment(s, what string) error {
	switch {
	case s == "":
		return &InvalidKeyError{Key: s, Reason: what + " is empty"}
	case len(s) > MaxKeyBytes:
		return &InvalidKeyError{Key: s[:32] + "…", Reason: fmt.Sprintf("%s exceeds %d bytes", what, MaxKeyBytes)}
	case !utf8.ValidString(s):
		return &InvalidKeyError{Key: s, Reason: what + " is not valid UTF-8"}
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return &InvalidKeyError{Key: s, Reason: what + " contains control characters"}
		}
	}
	return nil
}

// unescapeSegment reverses segmentEscaper and rejects any other escape.
func unescapeSegment(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape at offset %d", i)
		}
		switch s[i+1 : i+3] {
		case "25":
			b.WriteByte('%')
		case "3A":
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("unknown escape %q", s[i:i+3])
		}
		i += 2
	}
	return b.String(), nil
}
