package utils

import "sync"

// StringSet is a thread-safe set of strings.
type StringSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewStringSet creates an empty StringSet.
func NewStringSet() *StringSet {
	return &StringSet{seen: make(map[string]struct{})}
}

// Add returns true if s was newly added, false if already present.
func (set *StringSet) Add(s string) bool {
	set.mu.Lock()
	defer set.mu.Unlock()

	if _, exists := set.seen[s]; exists {
		return false
	}
	set.seen[s] = struct{}{}
	return true
}

// Contains returns true if s is in the set.
func (set *StringSet) Contains(s string) bool {
	set.mu.RLock()
	defer set.mu.RUnlock()
	_, exists := set.seen[s]
	return exists
}

// Size returns the number of unique strings tracked.
func (set *StringSet) Size() int {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.seen)
}

// Unique returns items with duplicates removed, keeping first occurrences in
// order. Empty strings are dropped.
func Unique(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
