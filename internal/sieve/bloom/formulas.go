package bloom

import "math"

// Sizing formulas for bloom filters, from the standard analysis: for n
// expected elements and m bits, the false-positive probability is roughly
// p = (1 - e^(-kn/m))^k, minimized at k = (m/n) ln 2, which in turn gives
// m = -n ln(p) / (ln 2)^2 for a target p.
//
// These are pure functions and perform no validation. elementCount <= 0 or a
// probability outside (0, 1) produces nonsensical results (zero or negative
// sizes); callers must validate before calling. The server does this in
// BF.RESERVE.

// OptimalHashesForBits returns the hash count minimizing the false-positive
// rate for the given bits-per-element ratio: ceil(ln2 * numBits/elementCount).
// elementCount must be > 0.
func OptimalHashesForBits(elementCount, numBits int64) int {
	return int(math.Ceil(math.Log(2) * float64(numBits) / float64(elementCount)))
}

// OptimalHashesForBytes is OptimalHashesForBits with a byte budget.
func OptimalHashesForBytes(elementCount, numBytes int64) int {
	return OptimalHashesForBits(elementCount, numBytes*8)
}

// RequiredBits returns the bit-array length needed to hold elementCount
// elements at the target false-positive probability p. p must lie in (0, 1).
// The fractional part is truncated.
func RequiredBits(p float64, elementCount int64) int64 {
	ln2 := math.Log(2)
	return int64(math.Abs(float64(elementCount)*math.Log(p)) / (ln2 * ln2))
}

// RequiredBytes is RequiredBits divided by 8, truncating.
func RequiredBytes(p float64, elementCount int64) int64 {
	return RequiredBits(p, elementCount) / 8
}
