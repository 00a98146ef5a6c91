// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package checkpoint

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMarker_RoundTrip(t *testing.T) {
	m := Marker{
		LastWrittenIndex: 42,
		JournalSize:      43,
		UploadedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	body, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Marker
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != m {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, m)
	}
}
