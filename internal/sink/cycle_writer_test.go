// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/sink-replicator/internal/journal"
	"github.com/nishisan-dev/sink-replicator/internal/protocol"
)

func TestCycleSinkWriter_AppliesAcrossCycles(t *testing.T) {
	var wire bytes.Buffer
	// entriesForCycleBits=4 -> 16 entries/cycle; indices 0 and 16 land in
	// different cycle files.
	protocol.WriteDataFrame(&wire, 0, []byte("A"))
	protocol.WriteDataFrame(&wire, 16, []byte("BB"))
	payload := wire.Bytes()

	addr := serveOnce(t, func(conn net.Conn) {
		io.ReadFull(conn, make([]byte, protocol.ResumeRequestSize))
		conn.Write(payload)
	})

	dir := t.TempDir()
	j, err := journal.OpenFileCycleJournal(dir, 4)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	defer j.Close()

	w := NewCycleSinkWriter(newTestConnector(t, addr), j, discardLogger())
	defer w.Close()

	for i, want := range []int64{0, 16} {
		applied, err := w.Advance()
		if err != nil {
			t.Fatalf("Advance %d: %v", i, err)
		}
		if !applied {
			t.Fatalf("Advance %d: expected record applied", i)
		}
		if j.LastIndex() != want {
			t.Fatalf("Advance %d: expected LastIndex()==%d, got %d", i, want, j.LastIndex())
		}
	}
}

func TestCycleSinkWriter_ReplaySkipped(t *testing.T) {
	var wire bytes.Buffer
	// Frame for index 0 is a replay: the journal already has LastIndex()==0.
	protocol.WriteDataFrame(&wire, 0, []byte("replayed"))
	protocol.WriteDataFrame(&wire, 1, []byte("new"))
	payload := wire.Bytes()

	addr := serveOnce(t, func(conn net.Conn) {
		io.ReadFull(conn, make([]byte, protocol.ResumeRequestSize))
		conn.Write(payload)
	})

	dir := t.TempDir()
	j, err := journal.OpenFileCycleJournal(dir, 10)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	if err := j.MarkApplied(0); err != nil {
		t.Fatalf("seeding LastIndex: %v", err)
	}
	defer j.Close()

	w := NewCycleSinkWriter(newTestConnector(t, addr), j, discardLogger())
	defer w.Close()

	applied, err := w.Advance()
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !applied {
		t.Fatal("expected the post-replay record to be applied")
	}
	if j.LastIndex() != 1 {
		t.Errorf("expected LastIndex()==1, got %d", j.LastIndex())
	}
}

// TestCycleSinkWriter_ReconnectReplaysLastAppliedRecordExactlyOnce drives a
// real second TCP connection across a reconnect boundary: the Source
// resends the last-acknowledged record (as it may whenever it cannot tell
// whether the Sink received it before disconnecting) followed by a genuinely
// new one. The writer must skip the replay and apply the new record exactly
// once, with no gap.
func TestCycleSinkWriter_ReconnectReplaysLastAppliedRecordExactlyOnce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	var mu sync.Mutex
	var resumeIndexes []int64
	recordResume := func(conn net.Conn) bool {
		var req [protocol.ResumeRequestSize]byte
		if _, err := io.ReadFull(conn, req[:]); err != nil {
			return false
		}
		idx, err := protocol.DecodeResumeRequest(bytes.NewReader(req[:]))
		if err != nil {
			return false
		}
		mu.Lock()
		resumeIndexes = append(resumeIndexes, idx)
		mu.Unlock()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ln.Close()

		conn1, err := ln.Accept()
		if err != nil {
			return
		}
		if !recordResume(conn1) {
			conn1.Close()
			return
		}

		var frame bytes.Buffer
		// Payload is long enough (>=8 bytes) that the writer's initial
		// header+lookahead read (HeaderSize+8) is satisfied in one shot on
		// a freshly (re)connected, otherwise-empty buffer.
		protocol.WriteDataFrame(&frame, 0, []byte("0123456789"))
		conn1.Write(frame.Bytes())
		// Disconnect immediately after the Source's only record is fully
		// delivered and applied, before it sends anything else.
		conn1.Close()

		conn2, err := ln.Accept()
		if err != nil {
			return
		}
		if !recordResume(conn2) {
			conn2.Close()
			return
		}
		defer conn2.Close()

		var replay bytes.Buffer
		protocol.WriteDataFrame(&replay, 0, []byte("A"))   // replay: same index as lastIndex
		protocol.WriteDataFrame(&replay, 1, []byte("new")) // genuinely new record
		conn2.Write(replay.Bytes())
	}()

	dir := t.TempDir()
	j, err := journal.OpenFileCycleJournal(dir, 10)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	defer j.Close()

	w := NewCycleSinkWriter(newTestConnector(t, addr), j, discardLogger())
	defer w.Close()

	deadline := time.Now().Add(2 * time.Second)
	for j.LastIndex() < 1 && time.Now().Before(deadline) {
		applied, err := w.Advance()
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if !applied {
			time.Sleep(time.Millisecond)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server goroutine did not finish")
	}

	if j.LastIndex() != 1 {
		t.Fatalf("expected LastIndex()==1 after reconnect/replay, got %d", j.LastIndex())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(resumeIndexes) != 2 {
		t.Fatalf("expected exactly two resume requests (initial + post-reconnect), got %d: %v", len(resumeIndexes), resumeIndexes)
	}
	if resumeIndexes[0] != -1 {
		t.Errorf("expected initial resume index -1 (fresh journal), got %d", resumeIndexes[0])
	}
	if resumeIndexes[1] != 0 {
		t.Errorf("expected post-reconnect resume index 0 (last applied record), got %d", resumeIndexes[1])
	}
}

func TestCycleSinkWriter_PaddedIsNoProgress(t *testing.T) {
	var wire bytes.Buffer
	protocol.WriteControlFrame(&wire, protocol.SizePadded, 0)
	// Pad past the writer's HeaderSize+8 look-ahead floor so the single
	// control frame is actually decoded instead of the connection's
	// (test-only) immediate close being mistaken for a transient drop.
	wire.Write(make([]byte, 8))
	payload := wire.Bytes()

	addr := serveOnce(t, func(conn net.Conn) {
		io.ReadFull(conn, make([]byte, protocol.ResumeRequestSize))
		conn.Write(payload)
	})

	dir := t.TempDir()
	j, err := journal.OpenFileCycleJournal(dir, 10)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	defer j.Close()

	w := NewCycleSinkWriter(newTestConnector(t, addr), j, discardLogger())
	defer w.Close()

	applied, err := w.Advance()
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if applied {
		t.Fatal("PADDED in cycle mode must report no progress")
	}
	if j.LastIndex() != -1 {
		t.Errorf("expected LastIndex() untouched at -1, got %d", j.LastIndex())
	}
}
