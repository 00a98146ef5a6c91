// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// nativeEndian is the byte order used for frame headers, matching whatever
// order the host uses for in-memory int32/int64 values. The resume request
// is the one field on the wire that is deliberately portable (big-endian);
// unifying the two would need a protocol version bump.
var nativeEndian = binary.NativeEndian

// DecodeHeader reads a 12-byte frame header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Header{}, fmt.Errorf("protocol: reading frame header: %w", err)
	}
	return Header{
		Size:  int32(nativeEndian.Uint32(raw[0:4])),
		Index: int64(nativeEndian.Uint64(raw[4:12])),
	}, nil
}

// EncodeHeader writes a 12-byte frame header to w. Used by tests and by any
// component standing in for the Source.
func EncodeHeader(w io.Writer, h Header) error {
	var raw [HeaderSize]byte
	nativeEndian.PutUint32(raw[0:4], uint32(h.Size))
	nativeEndian.PutUint64(raw[4:12], uint64(h.Index))
	_, err := w.Write(raw[:])
	if err != nil {
		return fmt.Errorf("protocol: writing frame header: %w", err)
	}
	return nil
}

// WriteResumeRequest writes the Sink's 8-byte big-endian resume request: the
// last index the Sink already has, or one of ResumeFromStart/ResumeFromEnd.
func WriteResumeRequest(w io.Writer, index int64) error {
	var raw [ResumeRequestSize]byte
	binary.BigEndian.PutUint64(raw[:], uint64(index))
	if _, err := w.Write(raw[:]); err != nil {
		return fmt.Errorf("protocol: writing resume request: %w", err)
	}
	return nil
}

// DecodeResumeRequest reads the Sink's 8-byte big-endian resume request.
// Used by test doubles standing in for the Source.
func DecodeResumeRequest(r io.Reader) (int64, error) {
	var raw [ResumeRequestSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, fmt.Errorf("protocol: reading resume request: %w", err)
	}
	return int64(binary.BigEndian.Uint64(raw[:])), nil
}

// WriteControlFrame writes a header-only control frame (IN_SYNC, PADDED, or
// SYNC_IDX). index is meaningful only for SYNC_IDX, where it carries the
// Source's authoritative reply position.
func WriteControlFrame(w io.Writer, size int32, index int64) error {
	return EncodeHeader(w, Header{Size: size, Index: index})
}

// WriteDataFrame writes a data frame header followed by payload. Callers
// writing through a buffered connection are responsible for flushing.
func WriteDataFrame(w io.Writer, index int64, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("protocol: payload of %d bytes exceeds MaxPayloadSize: %w", len(payload), ErrCorrupted)
	}
	if err := EncodeHeader(w, Header{Size: int32(len(payload)), Index: index}); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: writing frame payload: %w", err)
	}
	return nil
}
