// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connector

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps the rate limiter's burst so a single post-reconnect
// catch-up pull can't reserve an unbounded number of tokens at once.
const maxBurstSize = 256 * 1024

// throttledReader wraps a socket read with a token-bucket rate limit so a
// Sink that fell far behind doesn't saturate the local disk or NIC draining
// the backlog. It wraps the connection for its whole life, so reads after
// the backlog is drained are limited too.
type throttledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// newThrottledReader returns r unchanged if bytesPerSec <= 0 (no limiting).
func newThrottledReader(ctx context.Context, r io.Reader, bytesPerSec int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &throttledReader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (tr *throttledReader) Read(p []byte) (int, error) {
	chunk := len(p)
	if chunk > tr.limiter.Burst() {
		chunk = tr.limiter.Burst()
		p = p[:chunk]
	}

	if err := tr.limiter.WaitN(tr.ctx, chunk); err != nil {
		return 0, err
	}

	return tr.r.Read(p)
}
