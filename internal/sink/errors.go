// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sink implements the consumer side of the replication protocol:
// the resumption handshake, the two persistent write paths, the zero-copy
// memory tailer, and the handle registry that gives a Sink its single-
// consumer guarantee.
package sink

import "errors"

// ErrUnsupported is returned synchronously for misuse: creating a second
// handle, creating a handle on a closed Sink, creating an appender on a
// Sink (it never accepts local writes), or calling MemoryTailer.View with
// no record in view. Memory mode has no search operations.
var ErrUnsupported = errors.New("sink: operation not supported")
