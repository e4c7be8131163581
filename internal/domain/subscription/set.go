package subscription

import "sort"

// Set is an unordered collection of keys. The zero value is ready to use.
type Set struct {
	m map[Key]struct{}
}

// NewSet builds a set from the given keys, collapsing duplicates.
func NewSet(keys ...Key) Set {
	s := Set{m: make(map[Key]struct{}, len(keys))}
	for _, k := range keys {
		s.m[k] = struct{}{}
	}
	return s
}

// Add inserts k and reports whether it was absent.
func (s *Set) Add(k Key) bool {
	if s.m == nil {
		s.m = make(map[Key]struct{})
	}
	if _, ok := s.m[k]; ok {
		return false
	}
	s.m[k] = struct{}{}
	return true
}

// Remove deletes k and reports whether it was present.
func (s *Set) Remove(k Key) bool {
	if _, ok := s.m[k]; !ok {
		return false
	}
	delete(s.m, k)
	return true
}

// Has reports membership.
func (s Set) Has(k Key) bool {
	_, ok := s.m[k]
	return ok
}

// Len returns the number of keys.
func (s Set) Len() int {
	return len(s.m)
}

// Clear empties the set in place.
func (s *Set) Clear() {
	for k := range s.m {
		delete(s.m, k)
	}
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := Set{m: make(map[Key]struct{}, len(s.m))}
	for k := range s.m {
		out.m[k] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same keys.
func (s Set) Equal(other Set) bool {
	if len(s.m) != len(other.m) {
		return false
	}
	for k := range s.m {
		if _, ok := other.m[k]; !ok {
			return false
		}
	}
	return true
}

// Keys returns the members sorted by canonical encoding.
func (s Set) Keys() []Key {
	out := make([]Key, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
