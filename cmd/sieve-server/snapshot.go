// snapshot.go implements the binary persistence format and the controller
// that orchestrates saving and loading.
//
// The filter core's serialization boundary is the raw backing word array:
// words plus the (hashCount, numBits) pair are everything needed to re-mount
// a filter with an identical probe sequence. A snapshot is therefore a
// point-in-time copy of every filter's parameters and words. There is no
// command log to replay: reloading the words restores exactly the bits that
// were set, which is the whole observable state of a filter.
//
// The Binary Format (SVE1)
// ========================
//
//	+--------+-----------+-----------+---------+     +-----+-----------+
//	| Header | Shard 0   | Shard 1   | Shard 2 | ... | EOF | Checksum  |
//	+--------+-----------+-----------+---------+     +-----+-----------+
//	 4 bytes   variable    variable    variable       1 B    8 bytes
//
// Header: the 4-byte magic string "SVE1".
//
// Shard Blocks: each non-empty shard is written as a block:
//
//	+--------+----------+-------+----------------------------------+
//	| OpCode | Shard ID | Count | Filter 0 | Filter 1 | ...        |
//	+--------+----------+-------+----------------------------------+
//	  1 byte   1 byte    4 bytes
//
// Filter records are self-describing:
//
//	+-------+------+-----------+----------+--------+---------+-------+-------+
//	| NLen  | Name | ErrorRate | Capacity | Hashes | NumBits | WLen  | Words |
//	+-------+------+-----------+----------+--------+---------+-------+-------+
//	 4 bytes  var    8 bytes     8 bytes    4 bytes  8 bytes   4 bytes WLen*8
//
// All integers are little-endian; ErrorRate is an IEEE-754 float64 bit
// pattern. Words are written in word order, 8 bytes per word.
//
// EOF Marker: a single 0xFF byte terminates the shard blocks.
//
// Checksum: a CRC64 (ISO polynomial) over all preceding bytes. Partial
// writes and disk corruption are detected on load; a corrupt snapshot is
// refused rather than silently loading a filter that could report false
// negatives.
//
// Because blocks carry their shard ID, the loader inserts directly into the
// destination shard without re-hashing names (the IDs stay valid as long as
// shardCount is unchanged).

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"math"
	"os"
	"time"

	"sieve.lopezb.com/internal/sieve/bloom"
)

const snapshotMagic = "SVE1"

// Opcodes for the binary snapshot format.
const (
	OpCodeShardData = 0xFE
	OpCodeEOF       = 0xFF
)

// Structural bounds enforced while loading, before any length field is
// trusted. The checksum only runs at the end of the stream, so a truncated or
// garbage file could otherwise demand multi-GB allocations from a corrupt
// header long before the mismatch is detected. Same hardening discipline as
// the protocol parser's bulk and array caps.
const (
	MaxFilterNameLen = 64 * 1024
	MaxFilterWords   = 1 << 26 // 512MB of backing words
)

// SaveSnapshotToWriter serializes every filter to w in the SVE1 format.
//
// Each shard is locked exclusively while its filters are copied into a RAM
// buffer, then unlocked before the buffer is flushed to w. The exclusive
// lock matters here: BF.ADD runs under the shard read lock, so holding the
// write lock guarantees no probe is mutating the words mid-copy. The pause
// per shard is memory-bound and brief; the other 255 shards stay live.
func (s *Store) SaveSnapshotToWriter(w io.Writer) error {
	crcTable := crc64.MakeTable(crc64.ISO)
	checksum := crc64.New(crcTable)

	// Every byte written to the destination is also hashed, avoiding a
	// second pass over the data.
	bw := bufio.NewWriter(io.MultiWriter(w, checksum))

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}

	shardBuf := new(bytes.Buffer)
	scratch := make([]byte, 8)

	for i := 0; i < shardCount; i++ {
		shard := s.shards[i]

		shard.mu.Lock()
		if len(shard.filters) == 0 {
			shard.mu.Unlock()
			continue
		}

		shardBuf.Reset()
		shardBuf.WriteByte(OpCodeShardData)
		shardBuf.WriteByte(byte(i))

		binary.LittleEndian.PutUint32(scratch, uint32(len(shard.filters)))
		shardBuf.Write(scratch[:4])

		for name, e := range shard.filters {
			binary.LittleEndian.PutUint32(scratch, uint32(len(name)))
			shardBuf.Write(scratch[:4])
			shardBuf.WriteString(name)

			binary.LittleEndian.PutUint64(scratch, math.Float64bits(e.errorRate))
			shardBuf.Write(scratch)

			binary.LittleEndian.PutUint64(scratch, uint64(e.capacity))
			shardBuf.Write(scratch)

			binary.LittleEndian.PutUint32(scratch, uint32(e.filter.Hashes()))
			shardBuf.Write(scratch[:4])

			binary.LittleEndian.PutUint64(scratch, uint64(e.filter.NumBits()))
			shardBuf.Write(scratch)

			words := e.filter.Words()
			binary.LittleEndian.PutUint32(scratch, uint32(len(words)))
			shardBuf.Write(scratch[:4])
			for _, word := range words {
				binary.LittleEndian.PutUint64(scratch, word)
				shardBuf.Write(scratch)
			}
		}
		shard.mu.Unlock()

		// IO section: no locks held.
		if _, err := shardBuf.WriteTo(bw); err != nil {
			return err
		}
	}

	if err := bw.WriteByte(OpCodeEOF); err != nil {
		return err
	}

	// Flush so the hasher has seen everything before we read its sum.
	if err := bw.Flush(); err != nil {
		return err
	}

	// The checksum goes straight to the destination; it must not hash itself.
	return binary.Write(w, binary.LittleEndian, checksum.Sum64())
}

// LoadSnapshotFromReader restores the registry from SVE1 binary data,
// verifying the checksum as it streams. Filters are re-mounted by adopting
// the word arrays directly, with no re-hashing of contents and no
// re-derivation of parameters.
func (s *Store) LoadSnapshotFromReader(r *bufio.Reader) error {
	header := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	if string(header) != snapshotMagic {
		return errors.New("invalid snapshot header")
	}

	crcTable := crc64.MakeTable(crc64.ISO)
	hasher := crc64.New(crcTable)
	hasher.Write(header)

	scratch := make([]byte, 8)

	readFull := func(buf []byte) error {
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		hasher.Write(buf)
		return nil
	}

	for {
		opcode, err := r.ReadByte()
		if err != nil {
			return err
		}
		hasher.Write([]byte{opcode})

		if opcode == OpCodeEOF {
			break
		}
		if opcode != OpCodeShardData {
			return fmt.Errorf("snapshot stream corruption: unexpected opcode %x", opcode)
		}

		shardID, err := r.ReadByte()
		if err != nil {
			return err
		}
		hasher.Write([]byte{shardID})
		shard := s.shards[int(shardID)]

		if err := readFull(scratch[:4]); err != nil {
			return err
		}
		count := binary.LittleEndian.Uint32(scratch)

		for i := uint32(0); i < count; i++ {
			if err := readFull(scratch[:4]); err != nil {
				return err
			}
			nameLen := binary.LittleEndian.Uint32(scratch)
			if nameLen > MaxFilterNameLen {
				return fmt.Errorf("snapshot stream corruption: name length %d exceeds limit", nameLen)
			}

			nameBuf := make([]byte, nameLen)
			if err := readFull(nameBuf); err != nil {
				return err
			}
			name := string(nameBuf)

			if err := readFull(scratch); err != nil {
				return err
			}
			errorRate := math.Float64frombits(binary.LittleEndian.Uint64(scratch))

			if err := readFull(scratch); err != nil {
				return err
			}
			capacity := int64(binary.LittleEndian.Uint64(scratch))

			if err := readFull(scratch[:4]); err != nil {
				return err
			}
			hashes := int(binary.LittleEndian.Uint32(scratch))

			if err := readFull(scratch); err != nil {
				return err
			}
			numBits := int64(binary.LittleEndian.Uint64(scratch))

			if err := readFull(scratch[:4]); err != nil {
				return err
			}
			wordCount := binary.LittleEndian.Uint32(scratch)

			// Structural sanity before the words are even allocated. A
			// mismatched word count would change the fold's index range,
			// and an oversized one would balloon the allocation.
			if int64(wordCount)*64 < numBits || numBits < 2 || hashes < 1 || wordCount > MaxFilterWords {
				return fmt.Errorf("snapshot stream corruption: filter %q has bits=%d words=%d hashes=%d",
					name, numBits, wordCount, hashes)
			}

			words := make([]uint64, wordCount)
			for w := uint32(0); w < wordCount; w++ {
				if err := readFull(scratch); err != nil {
					return err
				}
				words[w] = binary.LittleEndian.Uint64(scratch)
			}

			// Direct insertion: the block's shard ID is authoritative.
			// Loading happens before the listener starts, so no locking.
			shard.filters[name] = &filterEntry{
				filter:    bloom.NewFromWords(hashes, numBits, words, stringToBytes, true),
				errorRate: errorRate,
				capacity:  capacity,
			}
		}
	}

	stored := make([]byte, 8)
	if _, err := io.ReadFull(r, stored); err != nil {
		return err
	}
	if binary.LittleEndian.Uint64(stored) != hasher.Sum64() {
		return errors.New("snapshot corruption: checksum mismatch")
	}

	return nil
}

// loadSnapshot restores server state from the snapshot file at startup.
// A missing file is a clean first boot, not an error.
func (app *application) loadSnapshot() error {
	f, err := os.Open(app.config.snapshotFilename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return app.store.LoadSnapshotFromReader(bufio.NewReader(f))
}

// saveSnapshot writes the current state to disk using a temporary file and
// an atomic rename, so a crash mid-save never leaves a corrupt snapshot in
// place of a good one.
func (app *application) saveSnapshot() error {
	tmpName := app.config.snapshotFilename + ".tmp"
	f, err := os.Create(tmpName)
	if err != nil {
		return err
	}

	var renamed bool
	defer func() {
		_ = f.Close()
		if !renamed {
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := app.store.SaveSnapshotToWriter(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	// Physically on disk before the swap.
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, app.config.snapshotFilename); err != nil {
		return err
	}
	renamed = true

	return nil
}

// backgroundSave is the CAS-guarded entry point shared by the SAVE command
// and the maintenance loop. Only one save runs at a time; the trigger name
// is for the logs.
func (app *application) backgroundSave(trigger string) bool {
	if !app.isSaving.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer app.isSaving.Store(false)

		// Clear the flag before copying, so writes that land during the
		// save re-mark the store dirty for the next cycle.
		app.dirty.Store(false)

		start := time.Now()
		if err := app.saveSnapshot(); err != nil {
			app.dirty.Store(true)
			app.logger.Error("snapshot save failed", "trigger", trigger, "error", err)
			return
		}
		app.logger.Info("snapshot saved", "trigger", trigger, "duration", time.Since(start))
	}()

	return true
}
