package ledger

import (
	lru "github.com/hashicorp/golang-lru"
)

// recencyCapacity bounds how many recent commit hashes RecencyCache
// remembers. It is a dedup window, not a durability guarantee: once a hash
// ages out, a repeat of that commit broadcast is processed again rather than
// rejected.
const recencyCapacity = 100

// RecencyCache deduplicates commit broadcasts by a transaction's
// current_hash so a node that re-receives the same commit (from retry or
// fan-out) does not apply it twice.
type RecencyCache struct {
	cache *lru.Cache
}

// NewRecencyCache returns a RecencyCache with room for the 100 most recently
// seen commit hashes.
func NewRecencyCache() *RecencyCache {
	cache, err := lru.New(recencyCapacity)
	if err != nil {
		// lru.New only errors for a non-positive size.
		panic(err)
	}
	return &RecencyCache{cache: cache}
}

// SeenBefore reports whether hash has already been recorded, then records it
// regardless of the outcome. Callers should skip applying a commit whose
// hash comes back true.
func (r *RecencyCache) SeenBefore(hash string) bool {
	_, seen := r.cache.Get(hash)
	r.cache.Add(hash, struct{}{})
	return seen
}

// Len reports how many hashes are currently cached.
func (r *RecencyCache) Len() int {
	return r.cache.Len()
}
