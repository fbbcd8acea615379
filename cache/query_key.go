package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

var keySerializer = NewDefaultKeySerializer()

// QueryKey identifies one cached request: a resource name plus the parameters
// that shape the request (query string, path ids, paging).
type QueryKey struct {
	Resource string
	Params   map[string]any
}

// KeyPredicate selects query keys for invalidation.
type KeyPredicate func(QueryKey) bool

// NewQueryKey builds a key from a resource name and its parameters. The params
// map is copied so later mutation by the caller does not change the key.
func NewQueryKey(resource string, params map[string]any) QueryKey {
	var copied map[string]any
	if len(params) > 0 {
		copied = make(map[string]any, len(params))
		for k, v := range params {
			copied[k] = v
		}
	}
	return QueryKey{Resource: resource, Params: copied}
}

// String returns the canonical form of the key. Keys built from the same
// resource and logically equal params always render identically.
func (k QueryKey) String() string {
	if len(k.Params) == 0 {
		return keySerializer.SerializeKey(k.Resource)
	}
	return keySerializer.SerializeKey(k.Resource, k.Params)
}

// Equal reports whether both keys identify the same request.
func (k QueryKey) Equal(other QueryKey) bool {
	return k.String() == other.String()
}

// HasPrefix reports whether k belongs to prefix: same resource, and every
// param present in prefix is present in k with an equal value.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if k.Resource != prefix.Resource {
		return false
	}
	for name, want := range prefix.Params {
		got, ok := k.Params[name]
		if !ok {
			return false
		}
		if render(got) != render(want) {
			return false
		}
	}
	return true
}

// StoreKey returns the compact key used by the payload store. The resource
// stays readable so the store can be scanned by resource prefix.
func (k QueryKey) StoreKey() string {
	return fmt.Sprintf("%s%s%016x", k.Resource, KeySeparator, xxhash.Sum64String(k.String()))
}

// ResourceStorePrefix returns the store key prefix shared by every key of resource.
func ResourceStorePrefix(resource string) string {
	return resource + KeySeparator
}

// MatchResource selects every key of the given resources.
func MatchResource(resources ...string) KeyPredicate {
	return func(k QueryKey) bool {
		for _, r := range resources {
			if k.Resource == r {
				return true
			}
		}
		return false
	}
}

// MatchPrefix selects every key that has prefix.
func MatchPrefix(prefix QueryKey) KeyPredicate {
	return func(k QueryKey) bool {
		return k.HasPrefix(prefix)
	}
}

// MatchAll selects every key.
func MatchAll() KeyPredicate {
	return func(QueryKey) bool { return true }
}
