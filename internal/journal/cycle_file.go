// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// lastIndexFileName persists the last durably-applied index across
// restarts, rewritten atomically (temp file + rename) on every MarkApplied.
const lastIndexFileName = "last_index"

// FileCycleJournal is a reference CycleJournal: one zstd-compressed file
// per cycle (named by the cycle number), written with a single long-lived
// encoder per open cycle so records within a cycle share a compression
// context. Unlike FileIndexedJournal, nothing here supports random access —
// a cycle journal is a pure append sink; resumption is driven entirely by
// the persisted last_index marker, matching §4.5 of the protocol this
// journal backs.
type FileCycleJournal struct {
	dir                 string
	entriesForCycleBits int

	lastIndex atomic.Int64

	mu        sync.Mutex
	openCycle int64
	openFile  *os.File
	enc       *zstd.Encoder
}

// OpenFileCycleJournal opens (creating if absent) a cycle journal rooted at
// dir. entriesForCycleBits is the right-shift used to derive a cycle number
// from an index.
func OpenFileCycleJournal(dir string, entriesForCycleBits int) (*FileCycleJournal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}

	j := &FileCycleJournal{
		dir:                 dir,
		entriesForCycleBits: entriesForCycleBits,
		openCycle:           -1,
	}

	last, err := readLastIndex(filepath.Join(dir, lastIndexFileName))
	if err != nil {
		return nil, err
	}
	j.lastIndex.Store(last)

	return j, nil
}

func readLastIndex(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading last index marker: %w", err)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing last index marker %q: %w", data, err)
	}
	return v, nil
}

func writeLastIndex(dir string, index int64) error {
	final := filepath.Join(dir, lastIndexFileName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(index, 10)), 0644); err != nil {
		return fmt.Errorf("writing last index marker: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("renaming last index marker: %w", err)
	}
	return nil
}

func (j *FileCycleJournal) LastIndex() int64        { return j.lastIndex.Load() }
func (j *FileCycleJournal) EntriesForCycleBits() int { return j.entriesForCycleBits }

func (j *FileCycleJournal) CreateAppender() (CycleAppender, error) {
	return &fileCycleAppender{j: j}, nil
}

// MarkApplied durably persists index as the last index applied.
func (j *FileCycleJournal) MarkApplied(index int64) error {
	j.lastIndex.Store(index)
	return writeLastIndex(j.dir, index)
}

func (j *FileCycleJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeOpenCycleLocked()
}

func (j *FileCycleJournal) closeOpenCycleLocked() error {
	if j.enc == nil {
		return nil
	}
	encErr := j.enc.Close()
	fileErr := j.openFile.Close()
	j.enc = nil
	j.openFile = nil
	j.openCycle = -1
	if encErr != nil {
		return encErr
	}
	return fileErr
}

func (j *FileCycleJournal) switchCycleLocked(cycle int64) error {
	if cycle == j.openCycle && j.enc != nil {
		return nil
	}
	if err := j.closeOpenCycleLocked(); err != nil {
		return err
	}

	path := filepath.Join(j.dir, fmt.Sprintf("%020d.cycle.zst", cycle))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening cycle file %s: %w", path, err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("starting cycle compressor: %w", err)
	}

	j.openFile = f
	j.enc = enc
	j.openCycle = cycle
	return nil
}

type fileCycleAppender struct {
	j       *FileCycleJournal
	started bool
}

func (a *fileCycleAppender) StartExcerpt(size int, cycle int64) error {
	a.j.mu.Lock()
	defer a.j.mu.Unlock()
	if err := a.j.switchCycleLocked(cycle); err != nil {
		return err
	}
	a.started = true
	return nil
}

func (a *fileCycleAppender) Write(p []byte) (int, error) {
	a.j.mu.Lock()
	defer a.j.mu.Unlock()
	if !a.started || a.j.enc == nil {
		return 0, fmt.Errorf("write before StartExcerpt")
	}
	return a.j.enc.Write(p)
}

// Finish flushes the current record's compressed bytes without closing the
// encoder's frame, so the next excerpt in the same cycle shares its
// compression context. It does not update LastIndex — see
// FileCycleJournal.MarkApplied, which the write path calls explicitly with
// the wire index once Finish succeeds.
func (a *fileCycleAppender) Finish() error {
	a.j.mu.Lock()
	if !a.started {
		a.j.mu.Unlock()
		return fmt.Errorf("finish before StartExcerpt")
	}
	err := a.j.enc.Flush()
	a.started = false
	a.j.mu.Unlock()
	if err != nil {
		return fmt.Errorf("flushing cycle compressor: %w", err)
	}
	return nil
}
