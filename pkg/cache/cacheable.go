package cache

import "fmt"

// Cacheable is the registration constraint for cached types. A type T is
// cacheable when *T declares its type tag:
//
//	type Car struct {
//		cache.Doc
//		Maker string `json:"maker"`
//	}
//
//	func (*Car) CacheType() string { return "car" }
//
// Typed operations are then called as cache.Get[Car](ctx, repo, key); the
// pointer type parameter is inferred. CacheType must return a constant that
// matches the namespace pattern (lowercase letters, digits, '_', '.', '-').
//
// A type that embeds Doc but does not declare CacheType would inherit Doc's
// tag and share its partition. Typed operations reject such types with
// ErrInvalidKey; BaseType is reserved for Doc itself.
type Cacheable[T any] interface {
	*T
	CacheType() string
}

// DefaultSubKeyer overrides the sub-key used by the specific operations when
// the caller passes an empty sub-key. Without it the type tag is used.
type DefaultSubKeyer interface {
	DefaultSubKey() string
}

// KeySetter is implemented by documents that want their cache keys recorded
// in the payload. The repository calls it before serializing a value.
type KeySetter interface {
	SetCacheKey(key, subKey string)
}

// BaseType is the type tag of Doc and the default scope of Repository.Remove.
const BaseType = "doc"

// Doc is the base cached document. Embed it to get key bookkeeping and
// override CacheType on the embedding type.
type Doc struct {
	Key    string `json:"key"`
	SubKey string `json:"sub_key,omitempty"`
}

// CacheType implements Cacheable.
func (*Doc) CacheType() string {
	return BaseType
}

// SetCacheKey implements KeySetter.
func (d *Doc) SetCacheKey(key, subKey string) {
	d.Key = key
	d.SubKey = subKey
}

// typeInfo holds the registration data of a cacheable type.
type typeInfo struct {
	tag           string
	defaultSubKey string
}

// infoOf returns the registration data of T. A type other than Doc must not
// report BaseType, which is what embedding Doc without declaring CacheType
// yields through method promotion.
func infoOf[T any, PT Cacheable[T]]() (typeInfo, error) {
	p := PT(new(T))
	info := typeInfo{tag: p.CacheType()}
	if _, isDoc := any(p).(*Doc); info.tag == BaseType && !isDoc {
		return info, &InvalidKeyError{
			Key:    info.tag,
			Reason: fmt.Sprintf("%T must declare its own CacheType instead of inheriting it from Doc", *new(T)),
		}
	}
	if d, ok := any(p).(DefaultSubKeyer); ok {
		info.defaultSubKey = d.DefaultSubKey()
	}
	if info.defaultSubKey == "" {
		info.defaultSubKey = info.tag
	}
	return info, nil
}

// key builds the logical key for T. An empty subKey selects the default
// sub-key when specific is set.
func (ti typeInfo) key(key, subKey string, specific bool) CacheKey {
	k := CacheKey{Type: ti.tag, Key: key}
	if specific {
		k.Specific = true
		k.SubKey = subKey
		if k.SubKey == "" {
			k.SubKey = ti.defaultSubKey
		}
	}
	return k
}
