// Package param defines the parameter map that flows through command
// transformation, validation and action invocation.
package param

import "sort"

// Map holds named parameter values.
type Map map[string]any

// Symbol is an interned identifier produced by the symbol cast.
type Symbol string

// Clone returns a shallow copy. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for key, value := range m {
		out[key] = value
	}
	return out
}

// Has reports whether key is present, even with a nil value.
func (m Map) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Present reports whether key is present with a non-nil value.
func (m Map) Present(key string) bool {
	value, ok := m[key]
	return ok && value != nil
}

// Get returns the value for key.
func (m Map) Get(key string) (any, bool) {
	value, ok := m[key]
	return value, ok
}

// Keys returns the keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Only returns a copy restricted to the given keys.
func (m Map) Only(keys ...string) Map {
	out := make(Map, len(keys))
	for _, key := range keys {
		if value, ok := m[key]; ok {
			out[key] = value
		}
	}
	return out
}
