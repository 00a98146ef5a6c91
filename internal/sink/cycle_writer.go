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

// CycleSinkWriter applies incoming data frames to a cycle-partitioned
// journal, deriving the destination cycle from each frame's index and
// skipping the single replayed record a Source resends across a resume.
type CycleSinkWriter struct {
	conn    *connector.Connector
	journal journal.CycleJournal
	logger  *slog.Logger

	connected bool
}

// NewCycleSinkWriter builds a writer over an already-constructed connector
// and journal.
func NewCycleSinkWriter(conn *connector.Connector, j journal.CycleJournal, logger *slog.Logger) *CycleSinkWriter {
	return &CycleSinkWriter{conn: conn, journal: j, logger: logger.With("component", "cycle_writer")}
}

// Advance has the same return contract as IndexedSinkWriter.Advance.
func (w *CycleSinkWriter) Advance() (bool, error) {
	if !w.connected {
		if !w.conn.Open() {
			return false, nil
		}
		if !sendResumeRequest(w.conn, w.journal.LastIndex()) {
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
		// Unexpected in cycle mode. The asymmetry with IndexedSinkWriter
		// (which turns PADDED into a block-sized padding excerpt) is
		// deliberate per the protocol this writer implements: a cycle
		// journal has no block-alignment concept to pad past, so the
		// frame is defensively treated as no-progress rather than
		// applied or rejected as corruption.
		w.conn.Advance(protocol.HeaderSize)
		return false, nil

	case protocol.KindSyncIdx:
		w.conn.Advance(protocol.HeaderSize)
		return w.Advance() // recurse/re-attempt, transparent to caller

	default: // protocol.KindData
		return w.applyData(h)
	}
}

func (w *CycleSinkWriter) applyData(h protocol.Header) (bool, error) {
	w.conn.Advance(protocol.HeaderSize)

	if h.Index == w.journal.LastIndex() {
		// Replay of the last-acknowledged record across a resume
		// boundary: consume and discard, never double-apply.
		if err := w.conn.SkipPayload(int(h.Size)); err != nil {
			w.connected = false
			return true, nil
		}
		return w.Advance()
	}

	cycle := h.Index >> w.journal.EntriesForCycleBits()

	app, err := w.journal.CreateAppender()
	if err != nil {
		return false, fmt.Errorf("creating appender: %w", err)
	}
	if err := app.StartExcerpt(int(h.Size), cycle); err != nil {
		return false, fmt.Errorf("starting excerpt in cycle %d: %w", cycle, err)
	}

	if err := w.conn.CopyPayload(appenderWriter{app}, int(h.Size)); err != nil {
		w.connected = false
		return true, nil
	}

	if err := app.Finish(); err != nil {
		return false, fmt.Errorf("finishing excerpt: %w", err)
	}
	if err := w.journal.MarkApplied(h.Index); err != nil {
		return false, fmt.Errorf("persisting last applied index: %w", err)
	}
	return true, nil
}

// Close releases the underlying connector.
func (w *CycleSinkWriter) Close() error {
	w.conn.Close()
	return nil
}
