// Package bloom implements a classic fixed-capacity bloom filter driven by a
// chain of murmur hashes.
//
// A bloom filter answers set-membership queries with "possibly present" or
// "definitely absent": false positives happen at a configurable rate, false
// negatives never do. Capacity is fixed at construction and elements cannot
// be removed; the filter trades both for sublinear memory versus an exact
// set.
//
// The Algorithm
// =============
//
// Each operation derives k bit positions from the key's byte representation.
// Rather than computing k independent hash functions, the filter computes the
// same seeded 32-bit murmur hash k times over an incrementally perturbed
// buffer: after every round the buffer's first byte is incremented (wrapping
// modulo 256). One cheap hash function chained over perturbed input
// approximates k independent probes at a fraction of the cost.
//
// The 32-bit hash may be negative. With half = numBits/2, the bit index is
//
//	(h % half) + half
//
// Go's % operator is truncated division, so the remainder takes the sign of
// the dividend and lies in (-half, +half). Adding half folds the negative
// branch into [0, half) and the non-negative branch into [half, numBits),
// mapping any signed hash onto the full index range without an unsigned
// modulo. The exact fold matters: substituting an unsigned modulo would
// change which indices negative hashes reach and make persisted filters
// unreadable, since reload depends on reproducing the probe sequence.
//
// Concurrency
// ===========
//
// The filter itself holds no locks. Constructed thread-safe, it delegates all
// synchronization to the atomic bit array: concurrent Adds never lose bits,
// and a Test racing an Add may observe a partial subset of that Add's bits
// (which can only delay the key's "present" answer, never corrupt another
// key's). Constructed thread-unsafe, the caller owns all synchronization.
package bloom

import (
	"github.com/spaolacci/murmur3"

	"sieve.lopezb.com/internal/sieve/bitset"
)

// seed is the fixed murmur seed shared by every probe round and by both
// hashing entry points (typed keys and raw bytes). It is a compile-time
// constant, not configuration: filters are only compatible if their hash
// sequences are reproducible.
const seed = 1

// ToBytes converts a key into the byte representation that gets hashed.
// It must be deterministic for the same key across calls; non-determinism
// breaks the no-false-negative guarantee. The returned slice is mutated
// in place during probing (first byte incremented per round), so it must
// not alias memory the caller needs intact, and it must hold at least one
// byte: the perturbation has no defined target on an empty buffer and
// panics. Callers accepting external keys validate before reaching the
// filter.
type ToBytes[T any] func(key T) []byte

// Filter is a bloom filter over keys of type T.
type Filter[T any] struct {
	bits    bitset.BitSet
	toBytes ToBytes[T]
	hashes  int
	numBits int64
	half    int64 // numBits / 2, fixed at construction
}

// New creates a filter with an explicit hash count and bit-array length.
// hashes must be >= 1 and numBits >= 2. threadSafe selects the atomic bit
// array; pass true unless all access is single-goroutine or externally
// synchronized.
func New[T any](hashes int, numBits int64, toBytes ToBytes[T], threadSafe bool) *Filter[T] {
	var bits bitset.BitSet
	if threadSafe {
		bits = bitset.NewAtomic(numBits)
	} else {
		bits = bitset.NewPlain(numBits)
	}

	return &Filter[T]{
		bits:    bits,
		toBytes: toBytes,
		hashes:  hashes,
		numBits: numBits,
		half:    numBits / 2,
	}
}

// NewWithEstimates creates a filter sized for elementCount expected elements
// at the target false-positive probability p. p must lie in (0, 1) and
// elementCount must be > 0; see the formulas' caller obligations.
func NewWithEstimates[T any](p float64, elementCount int64, toBytes ToBytes[T], threadSafe bool) *Filter[T] {
	numBits := RequiredBits(p, elementCount)
	hashes := OptimalHashesForBits(elementCount, numBits)
	return New(hashes, numBits, toBytes, threadSafe)
}

// NewFromWords re-mounts a filter from a persisted backing word array,
// adopting the slice without copying. numBits and hashes must match the
// values the words were built with: the word array alone cannot recover
// numBits, since the bit count is not necessarily a multiple of 64, and a
// different half would silently diverge the probe sequence.
func NewFromWords[T any](hashes int, numBits int64, words []uint64, toBytes ToBytes[T], threadSafe bool) *Filter[T] {
	var bits bitset.BitSet
	if threadSafe {
		bits = bitset.AdoptAtomic(words)
	} else {
		bits = bitset.AdoptPlain(words)
	}

	return &Filter[T]{
		bits:    bits,
		toBytes: toBytes,
		hashes:  hashes,
		numBits: numBits,
		half:    numBits / 2,
	}
}

// Add inserts a key into the filter.
func (f *Filter[T]) Add(key T) {
	bs := f.toBytes(key)
	f.AddBytes(bs, 0, len(bs))
}

// Test reports whether the key is possibly in the filter. A false return
// guarantees the key was never added; a true return is subject to the
// configured false-positive rate.
func (f *Filter[T]) Test(key T) bool {
	bs := f.toBytes(key)
	return f.TestBytes(bs, 0, len(bs))
}

// AddBytes inserts the sub-range buf[offset:offset+length] into the filter.
// buf must be non-empty. The buffer is perturbed in place: after the call,
// buf[0] has advanced by hashes mod 256. Note that the perturbation targets
// the first byte of the buffer, not of the sub-range. The hash sequence is
// part of the persistence contract, so this quirk is load-bearing and must
// not be "fixed".
func (f *Filter[T]) AddBytes(buf []byte, offset, length int) {
	for i := 0; i < f.hashes; i++ {
		h := int32(murmur3.Sum32WithSeed(buf[offset:offset+length], seed))
		f.bits.Set(f.index(h))
		buf[0]++
	}
}

// TestBytes is the lookup counterpart of AddBytes, with the same buffer
// mutation. It short-circuits on the first unset bit, an optimization only,
// since all probed bits must be set for a true result regardless of order.
func (f *Filter[T]) TestBytes(buf []byte, offset, length int) bool {
	for i := 0; i < f.hashes; i++ {
		h := int32(murmur3.Sum32WithSeed(buf[offset:offset+length], seed))
		if !f.bits.Get(f.index(h)) {
			return false
		}
		buf[0]++
	}
	return true
}

// index folds a signed 32-bit hash onto [0, numBits). See the package
// comment for why this is (h % half) + half and not an unsigned modulo.
func (f *Filter[T]) index(h int32) int64 {
	return int64(h)%f.half + f.half
}

// MemorySize returns the bytes backing the bit array, for capacity
// accounting. Go object overhead is not counted.
func (f *Filter[T]) MemorySize() int64 {
	return f.bits.MemorySize()
}

// Hashes returns the probe count.
func (f *Filter[T]) Hashes() int {
	return f.hashes
}

// NumBits returns the bit-array length.
func (f *Filter[T]) NumBits() int64 {
	return f.numBits
}

// Words exposes the raw backing words for persistence. The slice aliases
// live storage; snapshot it only while no Add calls are in flight, or accept
// a partial view of concurrent insertions.
func (f *Filter[T]) Words() []uint64 {
	return f.bits.Words()
}
