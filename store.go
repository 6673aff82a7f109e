package pipe

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Store is the immutable key/value state threaded through a pipe.
// Every mutation method returns a new Store; no holder of a prior Store ever
// observes a change. The zero value is an empty, usable Store.
//
// Stores are passed by value. The backing map is copied on construction and
// on every write, so steps can safely hold onto a Store they received even
// after later steps have produced successors.
type Store struct {
	data map[string]any
}

// NewStore creates a Store from an initial mapping. The mapping is copied;
// later changes to it do not affect the Store. A nil mapping yields an empty
// Store.
func NewStore(initial map[string]any) Store {
	data := make(map[string]any, len(initial))
	maps.Copy(data, initial)
	return Store{data: data}
}

// Get returns the value for key and whether it is present.
func (s Store) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Value returns the value for key, or nil if absent.
func (s Store) Value(key string) any {
	return s.data[key]
}

// Has reports whether key is present.
func (s Store) Has(key string) bool {
	_, ok := s.data[key]
	return ok
}

// Len returns the number of keys in the store.
func (s Store) Len() int {
	return len(s.data)
}

// Keys returns all keys in sorted order.
func (s Store) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a new Store equal to s plus the given key/value pair.
// An existing key is shadowed in the result, never modified in s.
func (s Store) With(key string, value any) Store {
	data := make(map[string]any, len(s.data)+1)
	maps.Copy(data, s.data)
	data[key] = value
	return Store{data: data}
}

// Merge returns a new Store equal to s plus every pair in values.
// Pairs in values win over existing keys.
func (s Store) Merge(values map[string]any) Store {
	if len(values) == 0 {
		return s
	}
	data := make(map[string]any, len(s.data)+len(values))
	maps.Copy(data, s.data)
	maps.Copy(data, values)
	return Store{data: data}
}

// Without returns a new Store equal to s minus the given key.
func (s Store) Without(key string) Store {
	data := make(map[string]any, len(s.data))
	maps.Copy(data, s.data)
	delete(data, key)
	return Store{data: data}
}

// Map returns a copy of the store's contents as a plain map. Mutating the
// returned map does not affect the Store.
func (s Store) Map() map[string]any {
	data := make(map[string]any, len(s.data))
	maps.Copy(data, s.data)
	return data
}

// Equal reports whether two stores hold the same keys with equal values,
// using fmt-style comparison for values that are not directly comparable.
func (s Store) Equal(other Store) bool {
	if len(s.data) != len(other.data) {
		return false
	}
	for k, v := range s.data {
		ov, ok := other.data[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%#v", v) != fmt.Sprintf("%#v", ov) {
			return false
		}
	}
	return true
}

// String renders the store contents with sorted keys, for inspection and
// error messages.
func (s Store) String() string {
	var b strings.Builder
	b.WriteString("Store{")
	for i, k := range s.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, s.data[k])
	}
	b.WriteString("}")
	return b.String()
}
