// Package bitset implements the fixed-length bit arrays backing the bloom
// filter core.
//
// A bit array is a sequence of 64-bit words addressed by a 0-based bit index.
// Bits are only ever set, never cleared: the owning filter has no removal
// operation, so the arrays need no clear path and setting an already-set bit
// is an observable no-op.
//
// Two variants share the same contract and differ only in concurrency
// discipline:
//
//   - Plain: a bare []uint64 with direct read-modify-write. Concurrent Set
//     calls on the same word can lose updates (last writer wins). Intended for
//     single-goroutine use or callers that synchronize externally.
//
//   - Atomic: every word is an independently atomic 64-bit cell. Set runs an
//     optimistic compare-and-swap retry loop, so no bit-set is ever lost under
//     contention. Get is a single atomic load; reads need no retry.
//
// The Atomic variant is deliberately lock-free rather than mutex-guarded: at
// least one contender succeeds per CAS round, so Set always makes progress
// and never blocks behind a lock holder.
//
// Both variants construct either from a requested bit count or by adopting an
// existing word slice. Adoption is the serialization boundary: persistence
// layers store the raw words (word order preserved) and re-mount them on load.
//
// Index range is [0, numBits). An out-of-range index is caller error and
// panics on the word lookup; it is never silently masked.
package bitset

import "sync/atomic"

// BitSet is the contract shared by both variants. The filter core holds its
// bit array through this interface so the thread-safety choice is made once,
// at construction.
type BitSet interface {
	// Get reports whether the bit at index is set.
	Get(index int64) bool

	// Set sets the bit at index. Idempotent; never clears.
	Set(index int64)

	// MemorySize returns the number of bytes backing the array
	// (word count * 8). Go object overhead is not counted.
	MemorySize() int64

	// Words returns the raw backing words. The slice aliases live storage;
	// callers that persist it must do so while no Set calls are in flight.
	Words() []uint64
}

// WordsFor returns the number of 64-bit words needed to hold numBits bits,
// i.e. ceil(numBits/64). numBits must be >= 1.
func WordsFor(numBits int64) int {
	return int(((numBits - 1) >> 6) + 1)
}

// Plain is the thread-unsafe variant. No synchronization overhead, no
// atomicity guarantee.
type Plain struct {
	words []uint64
}

// NewPlain allocates a Plain bit set holding numBits bits, all zero.
func NewPlain(numBits int64) *Plain {
	return &Plain{words: make([]uint64, WordsFor(numBits))}
}

// AdoptPlain wraps an existing word slice without copying. The caller hands
// over ownership; the slice is mutated in place by Set.
func AdoptPlain(words []uint64) *Plain {
	return &Plain{words: words}
}

func (b *Plain) Get(index int64) bool {
	mask := uint64(1) << (index & 63)
	return b.words[index>>6]&mask != 0
}

func (b *Plain) Set(index int64) {
	mask := uint64(1) << (index & 63)
	b.words[index>>6] |= mask
}

func (b *Plain) MemorySize() int64 {
	return int64(len(b.words)) * 8
}

func (b *Plain) Words() []uint64 {
	return b.words
}

// Atomic is the thread-safe variant. Every word is accessed through
// sync/atomic, making concurrent Set calls lossless.
type Atomic struct {
	words []uint64
}

// NewAtomic allocates an Atomic bit set holding numBits bits, all zero.
func NewAtomic(numBits int64) *Atomic {
	return &Atomic{words: make([]uint64, WordsFor(numBits))}
}

// AdoptAtomic wraps an existing word slice without copying. The caller must
// not retain unsynchronized access to the slice afterwards.
func AdoptAtomic(words []uint64) *Atomic {
	return &Atomic{words: words}
}

func (b *Atomic) Get(index int64) bool {
	mask := uint64(1) << (index & 63)
	return atomic.LoadUint64(&b.words[index>>6])&mask != 0
}

func (b *Atomic) Set(index int64) {
	//
	// DESIGN
	// ------
	//
	// Optimistic retry loop. We load the current word, OR in the mask, and
	// attempt a compare-and-swap. If another goroutine modified the word
	// between our load and the CAS, the CAS fails and we re-read. The loop
	// terminates quickly in practice: a failure means someone else's Set
	// succeeded, and once our bit is visible in the re-read word the next
	// CAS merges both updates.
	//
	// A mutex would serialize all Set calls on the array; the CAS loop only
	// pays when two goroutines race on the same 64-bit word.
	//
	word := index >> 6
	mask := uint64(1) << (index & 63)

	for {
		cur := atomic.LoadUint64(&b.words[word])
		if cur&mask != 0 {
			return // Already set, nothing to publish.
		}
		if atomic.CompareAndSwapUint64(&b.words[word], cur, cur|mask) {
			return
		}
	}
}

func (b *Atomic) MemorySize() int64 {
	return int64(len(b.words)) * 8
}

func (b *Atomic) Words() []uint64 {
	return b.words
}
