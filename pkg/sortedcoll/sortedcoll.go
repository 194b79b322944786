// Package sortedcoll provides small ordered containers backed by a sorted
// slice with binary-search insertion, in the same hand-rolled-over-a-slice
// spirit as an order book's price heap: adequate for per-intersection queue
// sizes, and deterministic iteration order is the whole point.
package sortedcoll

import (
	"encoding/json"
	"sort"
)

// Ordered is anything with a total order via Less.
type Ordered[T any] interface {
	Less(other T) bool
}

// Set is a sorted set of comparable, orderable keys.
type Set[T Ordered[T]] struct {
	items []T
}

// NewSet returns an empty sorted set.
func NewSet[T Ordered[T]]() *Set[T] {
	return &Set[T]{}
}

func (s *Set[T]) search(item T) int {
	return sort.Search(len(s.items), func(i int) bool {
		return !s.items[i].Less(item)
	})
}

// Contains reports whether item is present.
func (s *Set[T]) Contains(item T) bool {
	i := s.search(item)
	return i < len(s.items) && !item.Less(s.items[i])
}

// Insert adds item if absent. Returns true if it was newly inserted.
func (s *Set[T]) Insert(item T) bool {
	i := s.search(item)
	if i < len(s.items) && !item.Less(s.items[i]) {
		return false
	}
	s.items = append(s.items, item)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = item
	return true
}

// Remove deletes item if present. Returns true if it was present.
func (s *Set[T]) Remove(item T) bool {
	i := s.search(item)
	if i >= len(s.items) || item.Less(s.items[i]) {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

// Len returns the number of items.
func (s *Set[T]) Len() int { return len(s.items) }

// Items returns the items in sorted order. The slice must not be mutated.
func (s *Set[T]) Items() []T { return s.items }

// Range calls fn for every item in sorted order, stopping early if fn
// returns false.
func (s *Set[T]) Range(fn func(item T) bool) {
	for _, item := range s.items {
		if !fn(item) {
			return
		}
	}
}

// MarshalJSON emits a plain sorted array, matching the persisted-state
// layout's expectation that sets serialize as ordered arrays.
func (s *Set[T]) MarshalJSON() ([]byte, error) {
	if s.items == nil {
		return json.Marshal([]T{})
	}
	return json.Marshal(s.items)
}

// Map is a sorted map keyed by an orderable key type.
type Map[K Ordered[K], V any] struct {
	keys []K
	vals []V
}

// NewMap returns an empty sorted map.
func NewMap[K Ordered[K], V any]() *Map[K, V] {
	return &Map[K, V]{}
}

func (m *Map[K, V]) search(key K) int {
	return sort.Search(len(m.keys), func(i int) bool {
		return !m.keys[i].Less(key)
	})
}

// Get returns the value for key, if present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	i := m.search(key)
	if i < len(m.keys) && !key.Less(m.keys[i]) {
		return m.vals[i], true
	}
	var zero V
	return zero, false
}

// Set inserts or overwrites the value for key.
func (m *Map[K, V]) Set(key K, val V) {
	i := m.search(key)
	if i < len(m.keys) && !key.Less(m.keys[i]) {
		m.vals[i] = val
		return
	}
	m.keys = append(m.keys, key)
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = key

	m.vals = append(m.vals, val)
	copy(m.vals[i+1:], m.vals[i:])
	m.vals[i] = val
}

// Delete removes key if present. Returns true if it was present.
func (m *Map[K, V]) Delete(key K) bool {
	i := m.search(key)
	if i >= len(m.keys) || key.Less(m.keys[i]) {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	return true
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return len(m.keys) }

// Keys returns the keys in sorted order. The slice must not be mutated.
func (m *Map[K, V]) Keys() []K { return m.keys }

// Values returns the values ordered by key. The slice must not be mutated.
func (m *Map[K, V]) Values() []V { return m.vals }

// Range calls fn for every entry in sorted key order, stopping early if fn
// returns false.
func (m *Map[K, V]) Range(fn func(key K, val V) bool) {
	for i, k := range m.keys {
		if !fn(k, m.vals[i]) {
			return
		}
	}
}

// entry is the [key, value] pair shape the persisted-state layout requires.
type entry[K any, V any] struct {
	Key K
	Val V
}

func (e entry[K, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.Key, e.Val})
}

// MarshalJSON emits an array of [key, value] pairs in sorted key order.
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	entries := make([]entry[K, V], len(m.keys))
	for i, k := range m.keys {
		entries[i] = entry[K, V]{Key: k, Val: m.vals[i]}
	}
	return json.Marshal(entries)
}
