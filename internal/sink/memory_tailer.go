// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"log/slog"

	"github.com/nishisan-dev/sink-replicator/internal/connector"
	"github.com/nishisan-dev/sink-replicator/internal/protocol"
)

// MemoryTailer exposes records without persistence: the connector's
// receive buffer doubles as record storage, and View aliases the live
// region of that buffer until Finish advances past it.
//
// The replication protocol distinguishes MemoryTailer (sequential) from
// MemoryExcerpt (random-access, with search unsupported). Neither offers a
// capability the other lacks once search is out of scope — both reduce to
// toStart/toEnd/Index/NextIndex/Finish — so one concrete type serves both
// call sites; a Sink in memory mode constructs exactly one regardless of
// which name the caller asked for (see Sink.CreateExcerpt/CreateTailer).
type MemoryTailer struct {
	conn   *connector.Connector
	logger *slog.Logger

	confirmed  bool
	currentIdx int64
	lastSize   int
	unfinished bool
}

// NewMemoryTailer builds a tailer over an already-constructed connector.
func NewMemoryTailer(conn *connector.Connector, logger *slog.Logger) *MemoryTailer {
	return &MemoryTailer{
		conn:       conn,
		logger:     logger.With("component", "memory_tailer"),
		currentIdx: protocol.ResumeFromEnd,
	}
}

// ToStart positions at the beginning of the replicated stream.
func (t *MemoryTailer) ToStart() bool { return t.Index(protocol.ResumeFromStart) }

// ToEnd positions at the Source's current frontier.
func (t *MemoryTailer) ToEnd() bool { return t.Index(protocol.ResumeFromEnd) }

// Index opens the connector if needed, sends the resume request for k, and
// reads frames until a SYNC_IDX confirms positioning (§4.3) or a
// non-matching data frame is skipped and scanning continues. Any PADDED or
// IN_SYNC frame observed at this step aborts positioning.
func (t *MemoryTailer) Index(k int64) bool {
	if !t.conn.Connected() {
		if !t.conn.Open() {
			return false
		}
	}
	if !sendResumeRequest(t.conn, k) {
		return false
	}
	t.confirmed = false
	t.currentIdx = k

	for {
		ok, done := t.scanForSync(k)
		if done {
			return ok
		}
	}
}

// scanForSync reads one frame during positioning. done is true once the
// outcome (ok) is decided; done is false to keep scanning past a
// non-matching data frame.
func (t *MemoryTailer) scanForSync(k int64) (ok bool, done bool) {
	if !t.conn.Read(protocol.HeaderSize, protocol.HeaderSize+8) {
		return false, true
	}
	h, err := t.conn.PeekHeader()
	if err != nil {
		return false, true
	}
	kind, err := protocol.Classify(h.Size)
	if err != nil {
		t.conn.Advance(protocol.HeaderSize)
		return false, true
	}

	switch kind {
	case protocol.KindPadded, protocol.KindInSync:
		t.conn.Advance(protocol.HeaderSize)
		return false, true

	case protocol.KindSyncIdx:
		t.conn.Advance(protocol.HeaderSize)
		if k != protocol.ResumeFromEnd && h.Index != k {
			return false, true
		}
		t.currentIdx = h.Index
		t.confirmed = true
		if k == protocol.ResumeFromStart {
			return true, true
		}
		// -2 and k>=0 additionally require the immediate next frame to
		// be advanceable.
		return t.readOneFrame(), true

	default: // protocol.KindData
		if t.confirmed || h.Index == k {
			t.currentIdx = h.Index
			return t.takeView(h), true
		}
		t.conn.Advance(protocol.HeaderSize)
		if err := t.conn.SkipPayload(int(h.Size)); err != nil {
			return false, true
		}
		return false, false
	}
}

// NextIndex advances to the next record. If the connector isn't open yet
// it falls back to re-positioning at the last confirmed index. Returns
// false for a control frame or I/O failure; the caller must not call
// NextIndex again before Finish (the buffer is refilled only at the head
// of NextIndex, never between NextIndex and Finish).
func (t *MemoryTailer) NextIndex() bool {
	if t.unfinished {
		return false
	}
	if !t.conn.Connected() {
		return t.Index(t.currentIdx)
	}
	return t.readOneFrame()
}

func (t *MemoryTailer) readOneFrame() bool {
	if !t.conn.Read(protocol.HeaderSize, protocol.HeaderSize+8) {
		return false
	}
	h, err := t.conn.PeekHeader()
	if err != nil {
		return false
	}
	kind, err := protocol.Classify(h.Size)
	if err != nil {
		t.conn.Advance(protocol.HeaderSize)
		return false
	}
	if kind != protocol.KindData {
		t.conn.Advance(protocol.HeaderSize)
		return false
	}
	t.currentIdx = h.Index
	return t.takeView(h)
}

func (t *MemoryTailer) takeView(h protocol.Header) bool {
	t.conn.Advance(protocol.HeaderSize)
	if _, err := t.conn.View(int(h.Size)); err != nil {
		return false
	}
	t.lastSize = int(h.Size)
	t.unfinished = true
	return true
}

// View returns the zero-copy bytes of the current unfinished record. It
// is only valid between a successful NextIndex/Index and the matching
// Finish.
func (t *MemoryTailer) View() ([]byte, error) {
	if !t.unfinished {
		return nil, ErrUnsupported
	}
	return t.conn.View(t.lastSize)
}

// CurrentIndex returns the index of the record currently in view (or the
// last confirmed position if none is).
func (t *MemoryTailer) CurrentIndex() int64 { return t.currentIdx }

// Finish advances the buffer past the current record. It is the sole
// point at which the read cursor moves forward for a consumed record.
func (t *MemoryTailer) Finish() {
	if !t.unfinished {
		return
	}
	t.conn.Advance(t.lastSize)
	t.unfinished = false
}

// Close releases the underlying connector.
func (t *MemoryTailer) Close() error {
	t.conn.Close()
	return nil
}
