// Package bloom implements a fixed-size bloom filter sized from an
// expected element count and target false-positive rate, using seahash
// double hashing for bit index derivation.
package bloom

import (
	"math"
	"sync"

	"blainsmith.com/go/seahash"
)

// goldenRatio64 is the odd 64-bit constant used to derive the second hash
// from the first, matching the reference implementation's double hashing
// scheme.
const goldenRatio64 = 0x9E3779B97F4A7C15

// Filter is a thread-safe bloom filter over arbitrary byte-slice keys.
type Filter struct {
	mu   sync.RWMutex
	bits []uint64
	m    uint64 // number of bits
	k    uint64 // number of hash rounds
}

// New returns a filter sized to hold n elements with false-positive
// probability p.
func New(n uint64, p float64) *Filter {
	if n == 0 {
		n = 1
	}
	m := optimalM(n, p)
	k := optimalK(m, n)
	words := (m + 63) / 64
	return &Filter{
		bits: make([]uint64, words),
		m:    m,
		k:    k,
	}
}

func optimalM(n uint64, p float64) uint64 {
	ln2 := math.Ln2
	m := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	if m < 1 {
		m = 1
	}
	return uint64(m)
}

func optimalK(m, n uint64) uint64 {
	k := math.Ceil(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint64(k)
}

// Reset clears every bit, returning the filter to its just-constructed
// state without resizing. Used when a snapshot restore replaces the
// latest-version set wholesale rather than merging into it.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bits {
		f.bits[i] = 0
	}
}

// Insert adds key to the filter.
func (f *Filter) Insert(key []byte) {
	h1, h2 := f.hashes(key)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < f.k; i++ {
		idx := (h1 + i*h2) % f.m
		f.bits[idx/64] |= 1 << (idx % 64)
	}
}

// Contains reports whether key may be present. False positives are
// possible; false negatives are not.
func (f *Filter) Contains(key []byte) bool {
	h1, h2 := f.hashes(key)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.k; i++ {
		idx := (h1 + i*h2) % f.m
		if f.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

func (f *Filter) hashes(key []byte) (h1, h2 uint64) {
	h1 = seahash.Sum64(key)
	h2 = h1 + goldenRatio64
	return
}
