// Package bloomindex implements the negative-lookup accelerator from
// SPEC_FULL.md §4.11: an in-memory Bloom filter over the live key set
// that lets Fetch short-circuit to NotFound without a skip-list descent.
// It is never authoritative — a positive answer still requires the real
// lookup, and the filter is always safe to drop and rebuild.
//
// Reference: grounded on PriyanshuSharma23-FlashLog/sst/writer.go's use
// of github.com/bits-and-blooms/bloom/v3 as a per-file negative filter,
// adapted from one filter per on-disk segment to one filter per handle.
package bloomindex

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filter is a concurrency-safe wrapper around a bloom.BloomFilter sized
// for an expected number of keys at a target false-positive rate.
type Filter struct {
	mu sync.RWMutex
	bf *bloom.BloomFilter
}

// New creates a filter sized for expectedKeys elements at falsePositive
// false-positive rate.
func New(expectedKeys uint, falsePositive float64) *Filter {
	if expectedKeys == 0 {
		expectedKeys = 1024
	}
	if falsePositive <= 0 {
		falsePositive = 0.01
	}
	return &Filter{bf: bloom.NewWithEstimates(expectedKeys, falsePositive)}
}

// MightContain reports whether key may be present. false is authoritative.
func (f *Filter) MightContain(key []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.Test(key)
}

// Add records key as present.
func (f *Filter) Add(key []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bf.Add(key)
}

// Remove is a no-op: Bloom filters cannot remove elements without a
// counting variant. A stale positive just costs an extra skip-list
// descent until the next checkpoint rebuilds the filter from scratch.
func (f *Filter) Remove(key []byte) {}

// Reset clears the filter back to empty.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bf.ClearAll()
}
