// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/sink-replicator/internal/config"
	"github.com/nishisan-dev/sink-replicator/internal/connector"
	"github.com/nishisan-dev/sink-replicator/internal/journal"
)

// Handle is the minimal capability the registry needs from any live
// consumer handle, regardless of which of the three concrete shapes
// (IndexedSinkWriter, CycleSinkWriter, MemoryTailer) it is.
type Handle interface {
	Close() error
}

// Advancer is implemented by the two persistent write paths
// (IndexedSinkWriter, CycleSinkWriter). A driver loop type-asserts a Handle
// to Advancer to pull and apply frames without caring which journal mode
// backs it.
type Advancer interface {
	Advance() (bool, error)
}

// Tailer is implemented by MemoryTailer. A driver loop type-asserts a
// Handle to Tailer to walk records without persisting them.
type Tailer interface {
	NextIndex() bool
	View() ([]byte, error)
	Finish()
	CurrentIndex() int64
}

// ConnectorFactory builds a fresh Connector plus its CloseSignal for a new
// handle. Each handle owns exactly one Connector; Sink never shares one
// between handles.
type ConnectorFactory func() (*connector.Connector, *connector.CloseSignal)

// Sink is the top-level lifecycle wrapper: it owns the handle registry (at
// most one live handle, persistent or memory), the underlying journal for
// persistent modes, and cascades Close to every registered handle and then
// the journal.
type Sink struct {
	mode   config.Mode
	logger *slog.Logger

	newConnector ConnectorFactory

	indexedJournal journal.IndexedJournal
	cycleJournal   journal.CycleJournal

	mu      sync.Mutex
	handles map[Handle]struct{}
	closed  bool
}

// New builds a Sink for the given mode. Only the journal matching mode
// need be non-nil (ModeMemory needs neither).
func New(mode config.Mode, newConnector ConnectorFactory, indexedJournal journal.IndexedJournal, cycleJournal journal.CycleJournal, logger *slog.Logger) *Sink {
	return &Sink{
		mode:           mode,
		newConnector:   newConnector,
		indexedJournal: indexedJournal,
		cycleJournal:   cycleJournal,
		logger:         logger.With("component", "sink", "mode", string(mode)),
		handles:        make(map[Handle]struct{}),
	}
}

// CreateExcerpt returns a random-access read handle. For persistent modes
// this is the same writer CreateTailer would return — the original
// system's Excerpt/Tailer split is a search-capability distinction that
// doesn't apply to a replication consumer that only ever walks forward.
// Fails if a handle already exists.
func (s *Sink) CreateExcerpt() (Handle, error) { return s.createHandle() }

// CreateTailer returns a sequential read handle. Fails if a handle already
// exists.
func (s *Sink) CreateTailer() (Handle, error) { return s.createHandle() }

// CreateAppender always fails: a Sink never accepts local writes.
func (s *Sink) CreateAppender() (Handle, error) {
	return nil, ErrUnsupported
}

func (s *Sink) createHandle() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrUnsupported
	}
	if len(s.handles) > 0 {
		return nil, ErrUnsupported
	}

	conn, signal := s.newConnector()

	var inner Handle
	switch s.mode {
	case config.ModeIndexed:
		inner = NewIndexedSinkWriter(conn, s.indexedJournal, s.logger)
	case config.ModeCycle:
		inner = NewCycleSinkWriter(conn, s.cycleJournal, s.logger)
	case config.ModeMemory:
		inner = NewMemoryTailer(conn, s.logger)
	default:
		return nil, fmt.Errorf("sink: unknown mode %q", s.mode)
	}

	wrapped := &registeredHandle{Handle: inner, sink: s, signal: signal}
	s.handles[wrapped] = struct{}{}
	return wrapped, nil
}

func (s *Sink) deregister(h Handle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// Close is idempotent. On first call it closes every registered handle
// (setting each one's close signal first, which wakes any reconnect loop
// blocked in that handle's connector), then closes the underlying
// journal. Journal close errors are logged, not propagated.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]Handle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[Handle]struct{})
	s.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(); err != nil {
			s.logger.Warn("handle close failed", "error", err)
		}
	}

	if s.indexedJournal != nil {
		if err := s.indexedJournal.Close(); err != nil {
			s.logger.Warn("indexed journal close failed", "error", err)
		}
	}
	if s.cycleJournal != nil {
		if err := s.cycleJournal.Close(); err != nil {
			s.logger.Warn("cycle journal close failed", "error", err)
		}
	}
	return nil
}

// Size delegates to the indexed journal; 0 for other modes or no journal.
func (s *Sink) Size() int64 {
	if s.mode == config.ModeIndexed && s.indexedJournal != nil {
		return s.indexedJournal.Size()
	}
	return 0
}

// LastWrittenIndex delegates to the underlying journal; -1 if none.
func (s *Sink) LastWrittenIndex() int64 {
	switch s.mode {
	case config.ModeIndexed:
		if s.indexedJournal != nil {
			return s.indexedJournal.LastWrittenIndex()
		}
	case config.ModeCycle:
		if s.cycleJournal != nil {
			return s.cycleJournal.LastIndex()
		}
	}
	return -1
}

// Clear is a no-op: a Sink never truncates a journal out from under a live
// replication stream. It exists only to satisfy the consumer API surface.
func (s *Sink) Clear() {}

// registeredHandle wraps a concrete handle so its Close both deregisters
// from the Sink and wakes any blocked reconnect loop via signal, whether
// Close was called directly by the consumer or cascaded from Sink.Close.
type registeredHandle struct {
	Handle
	sink   *Sink
	signal *connector.CloseSignal
	once   sync.Once
}

func (r *registeredHandle) Close() error {
	var err error
	r.once.Do(func() {
		r.signal.Set()
		err = r.Handle.Close()
		r.sink.deregister(r)
	})
	return err
}

// Unwrap returns the concrete handle registeredHandle wraps, so a caller
// holding only a Handle can still type-assert to Advancer or Tailer to
// drive it. registeredHandle itself deliberately implements neither — it
// would otherwise have to fake one of the two for whichever mode it
// doesn't wrap.
func (r *registeredHandle) Unwrap() Handle {
	return r.Handle
}
