// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"bytes"

	"github.com/nishisan-dev/sink-replicator/internal/connector"
	"github.com/nishisan-dev/sink-replicator/internal/protocol"
)

// sendResumeRequest writes the 8-byte big-endian resume request that must
// be sent exactly once at the start of every (re)connection, before any
// frame is read. It returns false if the write failed — the connector has
// already closed the socket in that case, and the caller should treat this
// the same as any other transient I/O failure: retry on the next call.
func sendResumeRequest(conn *connector.Connector, index int64) bool {
	var buf bytes.Buffer
	if err := protocol.WriteResumeRequest(&buf, index); err != nil {
		return false
	}
	return conn.Write(buf.Bytes())
}
