// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package connector owns the TCP session a Sink keeps with its Source: a
// single reusable receive buffer with compact-then-fill refill semantics,
// and a reconnect loop with exponential backoff that honours a shared close
// signal. It knows nothing about frame semantics beyond the fixed header
// size; that belongs to internal/protocol and internal/sink.
package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nishisan-dev/sink-replicator/internal/protocol"
)

// Config holds the dial and buffering parameters for a Connector.
type Config struct {
	Address           string
	MinBufferSize     int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	DialTimeout       time.Duration

	// DSCP is a parsed code point (see ParseDSCP); 0 disables it.
	DSCP int

	// TLSConfig, if non-nil, is cloned and dialed with tls.Client instead
	// of a plain TCP connection.
	TLSConfig *tls.Config

	// CatchupRateBytesPerSec limits socket reads during refill; 0 disables
	// limiting.
	CatchupRateBytesPerSec int64
}

// Connector owns a single socket and a single reusable receive buffer for
// exactly one consumer handle.
type Connector struct {
	cfg    Config
	closed *CloseSignal
	logger *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader io.Reader
	buf    []byte
	pos    int
	lim    int
}

// New builds a Connector. closed is the CloseSignal shared with the owning
// handle; setting it aborts Open's retry loop and fails subsequent reads.
func New(cfg Config, closed *CloseSignal, logger *slog.Logger) *Connector {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Connector{
		cfg:    cfg,
		closed: closed,
		logger: logger.With("component", "connector", "addr", cfg.Address),
		buf:    make([]byte, cfg.MinBufferSize),
	}
}

// Open blocks until either the close signal fires or a connection succeeds,
// sleeping ReconnectDelay (doubling, capped at MaxReconnectDelay) between
// attempts. The buffer is emptied before returning true.
func (c *Connector) Open() bool {
	delay := c.cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}

	for {
		if c.closed.IsSet() {
			return false
		}

		conn, err := c.dial()
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.reader = newThrottledReader(context.Background(), conn, c.cfg.CatchupRateBytesPerSec)
			c.pos, c.lim = 0, 0
			c.mu.Unlock()
			return true
		}

		c.logger.Warn("connect failed", "error", err, "retry_in", delay)

		select {
		case <-c.closed.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if c.cfg.MaxReconnectDelay > 0 && delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

func (c *Connector) dial() (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	raw, err := dialer.Dial("tcp", c.cfg.Address)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := raw.(*net.TCPConn); ok {
		if c.cfg.MinBufferSize > 0 {
			_ = tcpConn.SetReadBuffer(c.cfg.MinBufferSize)
		}
		if c.cfg.DSCP != 0 {
			if err := ApplyDSCP(tcpConn, c.cfg.DSCP); err != nil {
				c.logger.Warn("applying DSCP failed", "error", err)
			}
		}
	}

	if c.cfg.TLSConfig == nil {
		return raw, nil
	}

	host, _, splitErr := net.SplitHostPort(c.cfg.Address)
	if splitErr != nil {
		host = c.cfg.Address
	}
	tlsCfg := c.cfg.TLSConfig.Clone()
	tlsCfg.ServerName = host

	tlsConn := tls.Client(raw, tlsCfg)
	if err := tlsConn.Handshake(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

// Write attempts a complete write, retrying on partial success. It returns
// false on any I/O error, closing the connection; the caller is expected to
// reconnect.
func (c *Connector) Write(p []byte) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	for len(p) > 0 {
		n, err := conn.Write(p)
		if err != nil {
			c.mu.Lock()
			c.closeConnLocked()
			c.mu.Unlock()
			return false
		}
		p = p[n:]
	}
	return true
}

// Read ensures at least min bytes are available to consume from the
// receive buffer. If the current remaining count is already >= threshold
// it returns immediately without touching the socket; otherwise it
// compacts the buffer and pulls from the socket until min bytes have
// accumulated. It returns false on EOF or any I/O error, closing the
// connection.
func (c *Connector) Read(threshold, min int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lim-c.pos >= threshold {
		return true
	}

	c.compactLocked()

	for c.lim-c.pos < min {
		if !c.fillLocked() {
			return false
		}
	}
	return true
}

func (c *Connector) compactLocked() {
	if c.pos == 0 {
		return
	}
	if c.pos == c.lim {
		c.pos, c.lim = 0, 0
		return
	}
	n := copy(c.buf, c.buf[c.pos:c.lim])
	c.lim = n
	c.pos = 0
}

func (c *Connector) fillLocked() bool {
	if c.conn == nil {
		return false
	}
	if c.lim >= len(c.buf) {
		c.logger.Error("receive buffer exhausted before satisfying read", "capacity", len(c.buf))
		c.closeConnLocked()
		return false
	}

	n, err := c.reader.Read(c.buf[c.lim:])
	if n > 0 {
		c.lim += n
	}
	if err != nil {
		if err != io.EOF || n == 0 {
			c.closeConnLocked()
			return false
		}
	}
	return true
}

func (c *Connector) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// Close is idempotent; it closes and discards the socket.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeConnLocked()
}

// Connected reports whether a socket is currently held.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// PeekHeader decodes a 12-byte frame header at the current buffer position
// without advancing. The caller must have already ensured HeaderSize bytes
// are buffered via Read.
func (c *Connector) PeekHeader() (protocol.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lim-c.pos < protocol.HeaderSize {
		return protocol.Header{}, io.ErrShortBuffer
	}
	return protocol.DecodeHeader(bytes.NewReader(c.buf[c.pos : c.pos+protocol.HeaderSize]))
}

// Advance moves the read cursor forward by n bytes, bounded to the current
// limit.
func (c *Connector) Advance(n int) {
	c.mu.Lock()
	c.pos += n
	if c.pos > c.lim {
		c.pos = c.lim
	}
	c.mu.Unlock()
}

// View returns a zero-copy slice of the next n buffered bytes at the
// current position, refilling as needed. The slice aliases the connector's
// internal buffer and is only valid until the next Read/Advance call —
// callers (MemoryTailer) must finish consuming it before requesting more.
func (c *Connector) View(n int) ([]byte, error) {
	if !c.Read(n, n) {
		return nil, io.ErrUnexpectedEOF
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lim-c.pos < n {
		return nil, io.ErrUnexpectedEOF
	}
	return c.buf[c.pos : c.pos+n], nil
}

// CopyPayload copies n bytes from the receive buffer into w, refilling from
// the socket as needed and advancing the read cursor as bytes are
// consumed.
func (c *Connector) CopyPayload(w io.Writer, n int) error {
	remaining := n
	for remaining > 0 {
		if !c.Read(1, 1) {
			return io.ErrUnexpectedEOF
		}

		c.mu.Lock()
		avail := c.lim - c.pos
		if avail > remaining {
			avail = remaining
		}
		chunk := c.buf[c.pos : c.pos+avail]
		c.mu.Unlock()

		written, err := w.Write(chunk)
		if written > 0 {
			c.Advance(written)
			remaining -= written
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SkipPayload discards n bytes from the receive buffer, as CopyPayload
// would, without writing them anywhere.
func (c *Connector) SkipPayload(n int) error {
	return c.CopyPayload(io.Discard, n)
}
