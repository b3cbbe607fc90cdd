// handlers_bloom.go implements the Bloom Filter commands.
//
// Filters answer membership with "possibly present" (1) or "definitely
// absent" (0): false positives occur at the filter's configured rate, false
// negatives never occur for items that were added.
//
// Concurrency Strategy
// ====================
//
// The store's shard locks guard only the name -> filter map. Item-level
// operations run under the shard *read* lock and lean on the filter's atomic
// bit array, so concurrent BF.ADD calls against the same filter proceed in
// parallel without lost bit-sets. A BF.EXISTS racing a BF.ADD may see a
// partial prefix of that add's probes. That is expected behavior for a bloom
// filter, and it can only delay the item's first positive answer.

package main

import (
	"fmt"
	"io"
	"strconv"

	"sieve.lopezb.com/internal/sieve/bloom"
)

// stringToBytes is the key-to-bytes capability handed to every filter. It
// allocates a fresh byte slice per call, which matters: the filter perturbs
// the buffer in place during probing, and the original string must stay
// untouched.
func stringToBytes(s string) []byte {
	return []byte(s)
}

// validateItems rejects empty items before they reach a filter. The probe
// loop perturbs the buffer's first byte, so it requires at least one byte to
// hash; an empty item would panic in the core. RESP happily carries
// zero-length bulk strings, so this is client-controlled input and must be
// checked here, like the sizing inputs in BF.RESERVE.
func (app *application) validateItems(w io.Writer, items ...string) bool {
	for _, item := range items {
		if len(item) == 0 {
			_ = app.writeErrorResponse(w, "ERR item cannot be empty")
			return false
		}
	}
	return true
}

// newFilterEntry builds a thread-safe filter sized from the given target
// false-positive rate and capacity. Inputs must be pre-validated: the sizing
// formulas do no checking of their own.
func newFilterEntry(errorRate float64, capacity int64) *filterEntry {
	return &filterEntry{
		filter:    bloom.NewWithEstimates(errorRate, capacity, stringToBytes, true),
		errorRate: errorRate,
		capacity:  capacity,
	}
}

// handleBFReserve handles the BF.RESERVE command.
// Syntax: BF.RESERVE key error_rate capacity
//
// Creates an empty filter with explicit sizing parameters. The sizing
// formulas are documented as undefined for out-of-domain inputs, so the
// server validates here, before construction.
func (app *application) handleBFReserve(w io.Writer, args []string) {
	if len(args) != 3 {
		app.wrongNumberOfArgsResponse(w, "BF.RESERVE")
		return
	}

	key := args[0]

	errorRate, err := strconv.ParseFloat(args[1], 64)
	if err != nil || errorRate <= 0 || errorRate >= 1 {
		_ = app.writeErrorResponse(w, "ERR error rate must be a float strictly between 0 and 1")
		return
	}

	capacity, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || capacity <= 0 {
		_ = app.writeErrorResponse(w, "ERR capacity must be a positive integer")
		return
	}

	if !app.store.Create(key, newFilterEntry(errorRate, capacity)) {
		_ = app.writeErrorResponse(w, "ERR filter already exists")
		return
	}

	app.markDirty()
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleBFAdd handles the BF.ADD command.
// Syntax: BF.ADD key item
//
// Adds an item, creating the filter with the server's default sizing if the
// key does not exist. Returns 1 if the item was not previously present, 0 if
// it (probably) was. The 0 can itself be a false positive at the filter's
// configured rate, since the core filter does not track exact membership.
func (app *application) handleBFAdd(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.ADD")
		return
	}

	key, item := args[0], args[1]
	if !app.validateItems(w, item) {
		return
	}

	var added int
	app.store.Upsert(key, app.defaultFilterEntry, func(e *filterEntry) {
		if !e.filter.Test(item) {
			e.filter.Add(item)
			added = 1
		}
	})

	if added == 1 {
		app.markDirty()
	}
	_ = app.writeIntegerResponse(w, added)
}

// handleBFMAdd handles the BF.MADD command.
// Syntax: BF.MADD key item [item ...]
//
// Adds one or more items. Returns an array with one integer per input item,
// following BF.ADD semantics.
func (app *application) handleBFMAdd(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MADD")
		return
	}

	key, items := args[0], args[1:]
	if !app.validateItems(w, items...) {
		return
	}

	results := make([]int, len(items))
	anyAdded := false

	app.store.Upsert(key, app.defaultFilterEntry, func(e *filterEntry) {
		for i, item := range items {
			if !e.filter.Test(item) {
				e.filter.Add(item)
				results[i] = 1
				anyAdded = true
			}
		}
	})

	if anyAdded {
		app.markDirty()
	}
	_ = app.writeIntegerArrayResponse(w, results)
}

// handleBFExists handles the BF.EXISTS command.
// Syntax: BF.EXISTS key item
//
// Returns 1 if the item is possibly in the filter, 0 if it is definitely not
// present or the key does not exist.
func (app *application) handleBFExists(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.EXISTS")
		return
	}

	key, item := args[0], args[1]
	if !app.validateItems(w, item) {
		return
	}

	result := 0
	app.store.View(key, func(e *filterEntry) {
		if e.filter.Test(item) {
			result = 1
		}
	})

	_ = app.writeIntegerResponse(w, result)
}

// handleBFMExists handles the BF.MEXISTS command.
// Syntax: BF.MEXISTS key item [item ...]
//
// Tests one or more items. A missing key answers all zeros.
func (app *application) handleBFMExists(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MEXISTS")
		return
	}

	key, items := args[0], args[1:]
	if !app.validateItems(w, items...) {
		return
	}

	results := make([]int, len(items))

	app.store.View(key, func(e *filterEntry) {
		for i, item := range items {
			if e.filter.Test(item) {
				results[i] = 1
			}
		}
	})

	_ = app.writeIntegerArrayResponse(w, results)
}

// handleBFInfo handles the BF.INFO command.
// Syntax: BF.INFO key
//
// Reports the filter's creation parameters and derived sizing as a bulk
// string of key:value lines, in the same shape as the server-level INFO.
func (app *application) handleBFInfo(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.INFO")
		return
	}

	var info string
	found := app.store.View(args[0], func(e *filterEntry) {
		info = fmt.Sprintf(
			"error_rate:%g\r\ncapacity:%d\r\nhashes:%d\r\nbits:%d\r\nmemory_bytes:%d\r\n",
			e.errorRate, e.capacity, e.filter.Hashes(), e.filter.NumBits(), e.filter.MemorySize())
	})

	if !found {
		_ = app.writeErrorResponse(w, "ERR no such filter")
		return
	}

	_ = app.writeBulkStringResponse(w, info)
}
