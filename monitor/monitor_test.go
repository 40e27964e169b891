// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/flightcore/dshot/dshot"
	"github.com/flightcore/dshot/esctelemetry"
)

func TestHandleSnapshotReportsLatest(t *testing.T) {
	agg := esctelemetry.NewAggregator()
	agg.Update(esctelemetry.FromDShot(dshot.Telemetry{RPMMechanical: 4373, Successes: 2}))
	s := New(":0", agg)

	req := httptest.NewRequest("GET", "/api/telemetry", nil)
	w := httptest.NewRecorder()
	s.handleSnapshot(w, req)

	var frame Frame
	if err := json.Unmarshal(w.Body.Bytes(), &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Telemetry.RPMMechanical != 4373 {
		t.Errorf("rpm = %d, want 4373", frame.Telemetry.RPMMechanical)
	}
	if frame.Telemetry.Source != esctelemetry.SourceBidirectionalGCR {
		t.Errorf("source = %v, want bidirectional-gcr", frame.Telemetry.Source)
	}
}
