// Package idempotency remembers recently seen request keys so at-least-once
// deliveries are applied once.
package idempotency

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1024

// Set is a bounded set of keys. Once full, adding a key evicts the oldest one.
// Lookups never refresh a key, so eviction follows insertion order.
// It is safe for concurrent use.
type Set struct {
	keys *lru.Cache[string, struct{}]
}

func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only fails on a non-positive size.
	keys, _ := lru.New[string, struct{}](capacity)
	return &Set{keys: keys}
}

// Seen records key and reports whether it was already present.
func (s *Set) Seen(key string) bool {
	seen, _ := s.keys.ContainsOrAdd(key, struct{}{})
	return seen
}

// Forget removes key, so a failed request can be retried with it.
func (s *Set) Forget(key string) {
	s.keys.Remove(key)
}

func (s *Set) Len() int {
	return s.keys.Len()
}
