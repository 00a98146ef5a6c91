// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"testing"
)

func TestHeader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Header{Size: 42, Index: 7}

	if err := EncodeHeader(&buf, want); err != nil {
		t.Fatalf("EncodeHeader failed: %v", err)
	}
	if buf.Len() != HeaderSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize, buf.Len())
	}

	got, err := DecodeHeader(&buf)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if got != want {
		t.Errorf("header mismatch: want %+v, got %+v", want, got)
	}
}

func TestResumeRequest_RoundTrip(t *testing.T) {
	cases := []int64{0, 5, ResumeFromStart, ResumeFromEnd, 1 << 40}
	for _, idx := range cases {
		var buf bytes.Buffer
		if err := WriteResumeRequest(&buf, idx); err != nil {
			t.Fatalf("WriteResumeRequest(%d) failed: %v", idx, err)
		}
		if buf.Len() != ResumeRequestSize {
			t.Fatalf("expected %d bytes, got %d", ResumeRequestSize, buf.Len())
		}
		// Big-endian: byte 0 is most significant.
		if idx >= 0 && idx < 256 {
			if buf.Bytes()[7] != byte(idx) {
				t.Errorf("expected last byte %d, got %d", idx, buf.Bytes()[7])
			}
		}
		got, err := DecodeResumeRequest(&buf)
		if err != nil {
			t.Fatalf("DecodeResumeRequest failed: %v", err)
		}
		if got != idx {
			t.Errorf("resume request mismatch: want %d, got %d", idx, got)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		size    int32
		wantK   Kind
		wantErr bool
	}{
		{SizeInSync, KindInSync, false},
		{SizePadded, KindPadded, false},
		{SizeSyncIdx, KindSyncIdx, false},
		{0, KindData, false},
		{1024, KindData, false},
		{MaxPayloadSize, KindData, false},
		{MaxPayloadSize + 1, 0, true},
		{-4, 0, true},
		{-100, 0, true},
	}
	for _, c := range cases {
		k, err := Classify(c.size)
		if c.wantErr {
			if err == nil {
				t.Errorf("Classify(%d): expected error, got nil", c.size)
			}
			continue
		}
		if err != nil {
			t.Errorf("Classify(%d): unexpected error %v", c.size, err)
		}
		if k != c.wantK {
			t.Errorf("Classify(%d): want %v, got %v", c.size, c.wantK, k)
		}
	}
}

func TestWriteDataFrame_RejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, MaxPayloadSize+1)
	if err := WriteDataFrame(&buf, 0, payload); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestWriteDataFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello world")
	if err := WriteDataFrame(&buf, 3, payload); err != nil {
		t.Fatalf("WriteDataFrame failed: %v", err)
	}

	h, err := DecodeHeader(&buf)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if h.Index != 3 || h.Size != int32(len(payload)) {
		t.Fatalf("unexpected header: %+v", h)
	}
	got := make([]byte, h.Size)
	if _, err := buf.Read(got); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: want %q, got %q", payload, got)
	}
}
