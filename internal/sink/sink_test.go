// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"net"
	"testing"

	"github.com/nishisan-dev/sink-replicator/internal/config"
	"github.com/nishisan-dev/sink-replicator/internal/connector"
	"github.com/nishisan-dev/sink-replicator/internal/journal"
)

func newMemoryFactory(t *testing.T) ConnectorFactory {
	t.Helper()
	addr := serveOnce(t, func(conn net.Conn) {
		buf := make([]byte, 8)
		conn.Read(buf)
	})
	return func() (*connector.Connector, *connector.CloseSignal) {
		closed := connector.NewCloseSignal()
		c := connector.New(connector.Config{
			Address:        addr,
			MinBufferSize:  64,
		}, closed, discardLogger())
		return c, closed
	}
}

func TestSink_MemoryMode_SingleHandleOnly(t *testing.T) {
	s := New(config.ModeMemory, newMemoryFactory(t), nil, nil, discardLogger())
	defer s.Close()

	h1, err := s.CreateTailer()
	if err != nil {
		t.Fatalf("CreateTailer: %v", err)
	}
	if h1 == nil {
		t.Fatal("expected non-nil handle")
	}

	if _, err := s.CreateTailer(); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported for second handle, got %v", err)
	}

	if err := h1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h2, err := s.CreateTailer()
	if err != nil {
		t.Fatalf("CreateTailer after close: %v", err)
	}
	if err := h2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSink_CreateAppenderUnsupported(t *testing.T) {
	s := New(config.ModeMemory, newMemoryFactory(t), nil, nil, discardLogger())
	defer s.Close()

	if _, err := s.CreateAppender(); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestSink_CloseCascadesToHandlesAndJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.OpenFileIndexedJournal(dir, 4096)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}

	factory := newMemoryFactory(t)
	s := New(config.ModeIndexed, factory, j, nil, discardLogger())

	h, err := s.CreateExcerpt()
	if err != nil {
		t.Fatalf("CreateExcerpt: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Sink Close: %v", err)
	}

	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Sink Close: %v", err)
	}

	// The handle was already closed by the cascade; closing it again
	// directly must be a no-op (sync.Once), not a double-close panic.
	if err := h.Close(); err != nil {
		t.Fatalf("handle Close after cascade: %v", err)
	}

	if _, err := s.CreateExcerpt(); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported after Close, got %v", err)
	}
}

func TestSink_SizeAndLastWrittenIndexDelegate(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.OpenFileIndexedJournal(dir, 4096)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	defer j.Close()

	s := New(config.ModeIndexed, newMemoryFactory(t), j, nil, discardLogger())
	defer s.Close()

	if s.Size() != j.Size() {
		t.Errorf("expected Size()==%d, got %d", j.Size(), s.Size())
	}
	if s.LastWrittenIndex() != j.LastWrittenIndex() {
		t.Errorf("expected LastWrittenIndex()==%d, got %d", j.LastWrittenIndex(), s.LastWrittenIndex())
	}
}
