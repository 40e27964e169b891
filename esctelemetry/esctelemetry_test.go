// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package esctelemetry

import (
	"testing"

	"github.com/flightcore/dshot/dshot"
	"github.com/flightcore/dshot/serialtm"
)

func TestFromDShotSetsSource(t *testing.T) {
	r := FromDShot(dshot.Telemetry{RPMMechanical: 4373, Successes: 3})
	if r.Source != SourceBidirectionalGCR {
		t.Fatalf("source = %v, want bidirectional-gcr", r.Source)
	}
	if r.RPMMechanical != 4373 {
		t.Errorf("rpm = %d, want 4373", r.RPMMechanical)
	}
}

func TestFromSerialSetsSource(t *testing.T) {
	r := FromSerial(serialtm.Record{RPMMechanical: 1428}, serialtm.Counters{PacketsOK: 5, CRCErrors: 1})
	if r.Source != SourceSerial {
		t.Fatalf("source = %v, want serial", r.Source)
	}
	if r.Successes != 5 || r.Errors != 1 {
		t.Errorf("successes/errors = %d/%d, want 5/1", r.Successes, r.Errors)
	}
}

func TestAggregatorLatest(t *testing.T) {
	a := NewAggregator()
	if a.Latest().Source != SourceNone {
		t.Fatal("fresh aggregator should report SourceNone")
	}
	a.Update(FromDShot(dshot.Telemetry{RPMMechanical: 100}))
	if a.Latest().RPMMechanical != 100 {
		t.Fatal("Update did not stick")
	}
}
