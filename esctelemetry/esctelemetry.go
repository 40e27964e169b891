// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package esctelemetry unifies the two telemetry return paths variant a
// (serialtm, unidirectional DShot plus a separate serial link) and
// variant b (dshot's own bidirectional GCR reply) publish into, so a
// caller like monitor can display either without knowing which wire
// produced it. Both dshot and serialtm are leaves: neither imports this
// package, and this package imports both.
package esctelemetry

import (
	"sync"

	"github.com/flightcore/dshot/dshot"
	"github.com/flightcore/dshot/serialtm"
)

// Source identifies which variant produced a Record.
type Source int

const (
	SourceNone Source = iota
	SourceBidirectionalGCR
	SourceSerial
)

func (s Source) String() string {
	switch s {
	case SourceBidirectionalGCR:
		return "bidirectional-gcr"
	case SourceSerial:
		return "serial"
	default:
		return "none"
	}
}

// Record is the display-ready union of both telemetry variants' fields.
// Fields only one variant produces are left zero on the other's records.
type Record struct {
	Source Source

	RPMElectrical uint32
	RPMMechanical uint32

	TemperatureC   uint8
	VoltageCentiV  uint16
	CurrentCentiA  uint16
	ConsumptionMAh uint16

	FramesSent uint32
	Successes  uint32
	Errors     uint32
}

// FromDShot converts a dshot.Telemetry snapshot into a Record.
func FromDShot(t dshot.Telemetry) Record {
	return Record{
		Source:        SourceBidirectionalGCR,
		RPMElectrical: t.RPMElectrical,
		RPMMechanical: t.RPMMechanical,
		FramesSent:    t.FramesSent,
		Successes:     t.Successes,
		Errors:        t.Errors,
	}
}

// FromSerial converts a serialtm.Record plus its parser's counters into a
// Record.
func FromSerial(r serialtm.Record, c serialtm.Counters) Record {
	return Record{
		Source:         SourceSerial,
		RPMElectrical:  r.RPMElectrical,
		RPMMechanical:  r.RPMMechanical,
		TemperatureC:   r.TemperatureC,
		VoltageCentiV:  r.VoltageCentiV,
		CurrentCentiA:  r.CurrentCentiA,
		ConsumptionMAh: r.ConsumptionMAh,
		Successes:      c.PacketsOK,
		Errors:         c.CRCErrors + c.Timeouts + c.Overruns,
	}
}

// Aggregator holds the latest Record from whichever variant is active and
// publishes it to subscribers (the monitor server's broadcast loop).
type Aggregator struct {
	mu     sync.Mutex
	latest Record
}

// NewAggregator returns an Aggregator with no record yet (Source ==
// SourceNone).
func NewAggregator() *Aggregator { return &Aggregator{} }

// Update replaces the latest record.
func (a *Aggregator) Update(r Record) {
	a.mu.Lock()
	a.latest = r
	a.mu.Unlock()
}

// Latest returns the most recently published record.
func (a *Aggregator) Latest() Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}
