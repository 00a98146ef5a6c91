// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/sink-replicator/internal/connector"
	"github.com/nishisan-dev/sink-replicator/internal/journal"
	"github.com/nishisan-dev/sink-replicator/internal/protocol"
)

// IndexedSinkWriter applies incoming data frames to an indexed journal,
// honouring block padding and the invariant that the journal's size()
// equals the applied frame's index.
type IndexedSinkWriter struct {
	conn    *connector.Connector
	journal journal.IndexedJournal
	logger  *slog.Logger

	connected bool
}

// NewIndexedSinkWriter builds a writer over an already-constructed
// connector and journal. The connector is opened lazily on the first
// Advance call.
func NewIndexedSinkWriter(conn *connector.Connector, j journal.IndexedJournal, logger *slog.Logger) *IndexedSinkWriter {
	return &IndexedSinkWriter{conn: conn, journal: j, logger: logger.With("component", "indexed_writer")}
}

// Advance pulls and applies exactly one frame.
//
// Return values: (true, nil) a record (or padding excerpt) was applied, or
// an I/O failure triggered a reconnect that the next call will resume
// from; (false, nil) a heartbeat was observed, no journal mutation;
// (false, err) fatal stream corruption or a journal error — the caller
// must close the writer.
func (w *IndexedSinkWriter) Advance() (bool, error) {
	if !w.connected {
		if !w.conn.Open() {
			return false, nil
		}
		if !sendResumeRequest(w.conn, w.journal.LastWrittenIndex()) {
			return true, nil
		}
		w.connected = true
	}

	if !w.conn.Read(protocol.HeaderSize, protocol.HeaderSize+8) {
		w.connected = false
		return true, nil
	}

	h, err := w.conn.PeekHeader()
	if err != nil {
		return false, fmt.Errorf("decoding frame header: %w", err)
	}

	kind, err := protocol.Classify(h.Size)
	if err != nil {
		w.conn.Advance(protocol.HeaderSize)
		return false, fmt.Errorf("%w: %v", protocol.ErrCorrupted, err)
	}

	switch kind {
	case protocol.KindInSync:
		w.conn.Advance(protocol.HeaderSize)
		return false, nil

	case protocol.KindPadded:
		w.conn.Advance(protocol.HeaderSize)
		return w.applyPadding()

	case protocol.KindSyncIdx:
		w.conn.Advance(protocol.HeaderSize)
		return w.Advance() // recurse/re-attempt, transparent to caller

	default: // protocol.KindData
		return w.applyData(h)
	}
}

func (w *IndexedSinkWriter) applyPadding() (bool, error) {
	app, err := w.journal.CreateAppender()
	if err != nil {
		return false, fmt.Errorf("creating appender for padding: %w", err)
	}
	if err := app.Pad(w.journal.DataBlockSize() - 1); err != nil {
		return false, fmt.Errorf("applying block padding: %w", err)
	}
	return true, nil
}

func (w *IndexedSinkWriter) applyData(h protocol.Header) (bool, error) {
	if h.Index != w.journal.Size() {
		w.conn.Advance(protocol.HeaderSize)
		return false, fmt.Errorf("%w: frame index %d does not match journal size %d", protocol.ErrCorrupted, h.Index, w.journal.Size())
	}
	w.conn.Advance(protocol.HeaderSize)

	app, err := w.journal.CreateAppender()
	if err != nil {
		return false, fmt.Errorf("creating appender: %w", err)
	}
	if err := app.StartExcerpt(int(h.Size)); err != nil {
		return false, fmt.Errorf("starting excerpt: %w", err)
	}

	if err := w.conn.CopyPayload(appenderWriter{app}, int(h.Size)); err != nil {
		// Transient: the socket is already closed by CopyPayload's
		// underlying Read failure. The next Advance reconnects and
		// resumes from journal.LastWrittenIndex(), which is still
		// h.Index-1 since the partial excerpt was never Finish()ed.
		w.connected = false
		return true, nil
	}

	if err := app.Finish(); err != nil {
		return false, fmt.Errorf("finishing excerpt: %w", err)
	}
	return true, nil
}

// Close releases the underlying connector.
func (w *IndexedSinkWriter) Close() error {
	w.conn.Close()
	return nil
}

// appenderWriter adapts an appender's Write to io.Writer so
// connector.CopyPayload can stream a frame payload straight into it.
type appenderWriter struct {
	w interface {
		Write([]byte) (int, error)
	}
}

func (a appenderWriter) Write(p []byte) (int, error) { return a.w.Write(p) }
