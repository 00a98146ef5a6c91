// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package journal defines the contracts the Sink's write paths (internal/sink)
// drive, and gives each one a concrete file-backed implementation so the
// write paths' invariants are exercised end-to-end.
//
// The indexed and cycle journals are deliberately unrelated interfaces: the
// source protocol's two modes have different resumption keys (size() vs.
// lastIndex()) and different within-journal addressing (linear vs.
// cycle-bucketed), and collapsing them behind one interface would hide that
// distinction instead of expressing it.
package journal

// IndexedAppender is the write cursor for a single excerpt (record) in an
// indexed journal.
type IndexedAppender interface {
	// StartExcerpt reserves space for a size-byte record.
	StartExcerpt(size int) error
	// Write streams record bytes; may be called multiple times.
	Write(p []byte) (int, error)
	// Finish durably completes the current excerpt.
	Finish() error
	// Pad appends a block-padding record of the given size without
	// semantic payload, advancing past a block boundary. Used only for
	// PADDED control frames (§4.4 step 3 of the protocol this journal
	// backs).
	Pad(size int) error
}

// IndexedJournal is an append-only log addressed by a contiguous 64-bit
// index; size() doubles as "the next index to be appended".
type IndexedJournal interface {
	// Size is the next expected index (equivalently, the record count).
	Size() int64
	// LastWrittenIndex is Size()-1, or -1 if empty.
	LastWrittenIndex() int64
	// DataBlockSize is the padding alignment unit PADDED frames pad to.
	DataBlockSize() int
	CreateAppender() (IndexedAppender, error)
	Close() error
}

// CycleAppender is the write cursor for a single excerpt in a
// cycle-partitioned journal.
type CycleAppender interface {
	// StartExcerpt reserves space for a size-byte record in the given
	// cycle (a time-bucketed file family; see EntriesForCycleBits).
	StartExcerpt(size int, cycle int64) error
	Write(p []byte) (int, error)
	Finish() error
}

// CycleJournal is an append-only log whose index's high bits select a
// cycle file and whose low bits order records within it.
type CycleJournal interface {
	// LastIndex is the last index durably applied, or -1 if empty.
	LastIndex() int64
	// EntriesForCycleBits is the right-shift used to derive a cycle from
	// an index: cycle = index >> EntriesForCycleBits().
	EntriesForCycleBits() int
	CreateAppender() (CycleAppender, error)
	// MarkApplied durably records index as the last index applied. The
	// write path calls this once per excerpt, immediately after a
	// successful Finish — the three-method CycleAppender contract has no
	// room for it since StartExcerpt only carries a derived cycle, not
	// the original wire index the journal needs for LastIndex bookkeeping.
	MarkApplied(index int64) error
	Close() error
}
