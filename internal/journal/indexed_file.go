// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package journal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/klauspost/pgzip"
)

// FileIndexedJournal is a reference IndexedJournal: a single append-only
// data file where each excerpt (and each padding record) is its own
// parallel-gzip member, plus a durable index file of big-endian int64
// offsets (one per excerpt, including padding excerpts) giving Size() and
// random access without scanning the data file.
type FileIndexedJournal struct {
	dataBlockSize int

	dataPath string
	idxPath  string

	dataFile *os.File
	idxFile  *os.File

	size        atomic.Int64
	lastWritten atomic.Int64
}

// OpenFileIndexedJournal opens (creating if absent) an indexed journal
// rooted at dir. dataBlockSize is the block-padding alignment unit reported
// via DataBlockSize.
func OpenFileIndexedJournal(dir string, dataBlockSize int) (*FileIndexedJournal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}

	dataPath := filepath.Join(dir, "data.jlog")
	idxPath := filepath.Join(dir, "index.idx")

	dataFile, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening data file: %w", err)
	}

	idxFile, err := os.OpenFile(idxPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("opening index file: %w", err)
	}

	info, err := idxFile.Stat()
	if err != nil {
		dataFile.Close()
		idxFile.Close()
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	if info.Size()%8 != 0 {
		dataFile.Close()
		idxFile.Close()
		return nil, fmt.Errorf("index file %s is truncated: size %d not a multiple of 8", idxPath, info.Size())
	}

	j := &FileIndexedJournal{
		dataBlockSize: dataBlockSize,
		dataPath:      dataPath,
		idxPath:       idxPath,
		dataFile:      dataFile,
		idxFile:       idxFile,
	}
	count := info.Size() / 8
	j.size.Store(count)
	j.lastWritten.Store(count - 1)

	return j, nil
}

func (j *FileIndexedJournal) Size() int64            { return j.size.Load() }
func (j *FileIndexedJournal) LastWrittenIndex() int64 { return j.lastWritten.Load() }
func (j *FileIndexedJournal) DataBlockSize() int      { return j.dataBlockSize }

func (j *FileIndexedJournal) CreateAppender() (IndexedAppender, error) {
	return &fileIndexedAppender{j: j}, nil
}

func (j *FileIndexedJournal) Close() error {
	dataErr := j.dataFile.Close()
	idxErr := j.idxFile.Close()
	if dataErr != nil {
		return dataErr
	}
	return idxErr
}

func (j *FileIndexedJournal) recordOffset(offset int64) error {
	if err := binary.Write(j.idxFile, binary.BigEndian, offset); err != nil {
		return fmt.Errorf("writing index entry: %w", err)
	}
	if err := j.idxFile.Sync(); err != nil {
		return fmt.Errorf("syncing index file: %w", err)
	}
	j.size.Add(1)
	j.lastWritten.Add(1)
	return nil
}

type fileIndexedAppender struct {
	j      *FileIndexedJournal
	offset int64
	gz     *pgzip.Writer
}

func (a *fileIndexedAppender) StartExcerpt(size int) error {
	offset, err := a.j.dataFile.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seeking data file: %w", err)
	}
	a.offset = offset
	a.gz, err = pgzip.NewWriterLevel(a.j.dataFile, pgzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("starting excerpt compressor: %w", err)
	}
	return nil
}

func (a *fileIndexedAppender) Write(p []byte) (int, error) {
	if a.gz == nil {
		return 0, fmt.Errorf("write before StartExcerpt")
	}
	return a.gz.Write(p)
}

func (a *fileIndexedAppender) Finish() error {
	if a.gz == nil {
		return fmt.Errorf("finish before StartExcerpt")
	}
	if err := a.gz.Close(); err != nil {
		return fmt.Errorf("closing excerpt compressor: %w", err)
	}
	if err := a.j.dataFile.Sync(); err != nil {
		return fmt.Errorf("syncing data file: %w", err)
	}
	a.gz = nil
	return a.j.recordOffset(a.offset)
}

// Pad appends a size-byte zero-filled padding excerpt (the write path passes
// DataBlockSize()-1), compressed like any other excerpt. It is
// its own complete excerpt (StartExcerpt+Write+Finish collapsed) since the
// caller never streams payload for a PADDED control frame.
func (a *fileIndexedAppender) Pad(size int) error {
	if err := a.StartExcerpt(size); err != nil {
		return err
	}
	if _, err := a.Write(make([]byte, size)); err != nil {
		return err
	}
	return a.Finish()
}
