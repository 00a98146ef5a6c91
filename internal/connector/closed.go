// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connector

import (
	"sync"
	"sync/atomic"
)

// CloseSignal is the sole cross-thread signal between a consumer handle and
// its SinkConnector: setting it unblocks a reconnect loop sleeping between
// attempts and causes subsequent reads to fail immediately. It is safe to
// read and set from any goroutine without additional locking.
type CloseSignal struct {
	closed atomic.Bool
	ch     chan struct{}
	once   sync.Once
}

// NewCloseSignal returns an unset signal.
func NewCloseSignal() *CloseSignal {
	return &CloseSignal{ch: make(chan struct{})}
}

// Set flips the signal. Idempotent.
func (c *CloseSignal) Set() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.ch)
	})
}

// IsSet reports whether Set has been called, lock-free.
func (c *CloseSignal) IsSet() bool {
	return c.closed.Load()
}

// Done returns a channel closed exactly once, at the moment Set is called.
// A reconnect loop selects on it alongside its backoff timer so the sleep
// is interrupted immediately rather than on its next tick.
func (c *CloseSignal) Done() <-chan struct{} {
	return c.ch
}
