// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dshot

import (
	"testing"

	"github.com/flightcore/dshot/gcr"
	"github.com/flightcore/dshot/hal"
)

func unidirConfig() Config {
	return Config{
		SpeedKbps:        600,
		TickHz:           168_000_000,
		Bidirectional:    false,
		ReplyDelayTicks:  1,
		ReplyWindowTicks: 10,
	}
}

func bidirConfig() Config {
	return Config{
		SpeedKbps:        600,
		TickHz:           168_000_000,
		Bidirectional:    true,
		PolePairs:        14,
		ReplyDelayTicks:  1,
		ReplyWindowTicks: 10,
		CaptureSize:      32,
	}
}

func TestUnidirectionalSendCompletesImmediately(t *testing.T) {
	lb := hal.NewLoopback()
	d, err := New(unidirConfig(), lb.Hardware())
	if err != nil {
		t.Fatal(err)
	}
	if !d.IsIdle() {
		t.Fatal("driver not idle after construction")
	}
	if err := d.SendThrottle(1000); err != nil {
		t.Fatal(err)
	}
	// Loopback's Pulse.Arm completes synchronously, so the driver should
	// already be back at Idle.
	if !d.IsIdle() {
		t.Fatalf("state = %v, want Idle", d.State())
	}
	tel := d.LatestTelemetry()
	if tel.FramesSent != 1 || tel.Successes != 1 || tel.Errors != 0 {
		t.Fatalf("telemetry = %+v", tel)
	}
	if lb.Direction() != "output" {
		t.Fatalf("direction = %s, want output", lb.Direction())
	}
}

func TestSendRejectedWhenBusy(t *testing.T) {
	lb := hal.NewLoopback()
	d, err := New(bidirConfig(), lb.Hardware())
	if err != nil {
		t.Fatal(err)
	}
	// Don't queue a reply: after the pulse completes the driver parks in
	// WaitReply until Poll advances it, so a second send must be rejected.
	if err := d.SendThrottle(1000); err != nil {
		t.Fatal(err)
	}
	if d.IsIdle() {
		t.Fatal("bidirectional driver should be waiting on a reply, not idle")
	}
	if err := d.SendThrottle(500); err != ErrBusy {
		t.Fatalf("second send = %v, want ErrBusy", err)
	}
}

func TestBidirectionalRoundTripDecodesTelemetry(t *testing.T) {
	lb := hal.NewLoopback()
	cfg := bidirConfig()
	d, err := New(cfg, lb.Hardware())
	if err != nil {
		t.Fatal(err)
	}

	// period=0x0C4, crc=0x8 (XOR of nibbles), matching the package's worked
	// example: rpm_electrical=306122, rpm_mechanical=43731 at 14 pole pairs.
	const value = uint16(0x0C48)
	bitPeriod := gcr.ReplyBitPeriod(cfg.SpeedKbps, cfg.TickHz)
	levels := gcr.EncodeLevels(value)
	edges := gcr.LevelsToEdges(levels, bitPeriod)
	lb.QueueReply(edges)

	if err := d.SendThrottle(1000); err != nil {
		t.Fatal(err)
	}
	if d.State() != WaitReply {
		t.Fatalf("state after send = %v, want WaitReply", d.State())
	}

	now := lb.Advance(cfg.ReplyDelayTicks)
	d.Poll(now) // WaitReply -> Receiving, arms capture, reply completes synchronously
	if d.State() != Processing {
		t.Fatalf("state after capture arm = %v, want Processing", d.State())
	}
	if lb.Direction() != "input" {
		t.Fatalf("direction during capture = %s, want input", lb.Direction())
	}

	d.Poll(now) // Processing -> decode, Idle
	if !d.IsIdle() {
		t.Fatalf("state after processing = %v, want Idle", d.State())
	}
	if lb.Direction() != "output" {
		t.Fatalf("direction after retire = %s, want output", lb.Direction())
	}

	if !d.ConsumeTelemetryAvailable() {
		t.Fatal("expected telemetry-available flag set")
	}
	if d.ConsumeTelemetryAvailable() {
		t.Fatal("telemetry-available flag should be one-shot")
	}

	tel := d.LatestTelemetry()
	if !tel.Valid {
		t.Fatal("telemetry not marked valid")
	}
	if tel.RPMElectrical != 306122 {
		t.Errorf("rpm_electrical = %d, want 306122", tel.RPMElectrical)
	}
	if tel.RPMMechanical != 43731 {
		t.Errorf("rpm_mechanical = %d, want 43731", tel.RPMMechanical)
	}
	if tel.Successes != 1 || tel.Errors != 0 || tel.FramesSent != 1 {
		t.Fatalf("counters = %+v", tel)
	}
}

func TestBidirectionalReplyTimeoutCountsAsError(t *testing.T) {
	lb := hal.NewLoopback()
	cfg := bidirConfig()
	d, err := New(cfg, lb.Hardware())
	if err != nil {
		t.Fatal(err)
	}
	// No reply queued: capture never produces samples, so Poll must retire
	// the frame as an error once ReplyWindowTicks elapses.
	if err := d.SendThrottle(1000); err != nil {
		t.Fatal(err)
	}
	now := lb.Advance(cfg.ReplyDelayTicks)
	d.Poll(now) // -> Receiving
	if d.State() != Receiving {
		t.Fatalf("state = %v, want Receiving", d.State())
	}
	now = lb.Advance(cfg.ReplyWindowTicks + 1)
	d.Poll(now) // window elapsed -> Processing
	if d.State() != Processing {
		t.Fatalf("state = %v, want Processing", d.State())
	}
	d.Poll(now) // decode fails on empty samples -> Idle, errors++
	if !d.IsIdle() {
		t.Fatalf("state = %v, want Idle", d.State())
	}
	tel := d.LatestTelemetry()
	if tel.Errors != 1 || tel.Successes != 0 {
		t.Fatalf("counters = %+v, want 1 error, 0 successes", tel)
	}
	if d.ConsumeTelemetryAvailable() {
		t.Fatal("no telemetry should have been published on decode failure")
	}
}

func TestRejectsUnsupportedSpeed(t *testing.T) {
	cfg := unidirConfig()
	cfg.SpeedKbps = 999
	if _, err := New(cfg, hal.NewLoopback().Hardware()); err == nil {
		t.Fatal("expected error for unsupported speed")
	}
}

func TestRejectsBidirectionalWithoutPolePairs(t *testing.T) {
	cfg := bidirConfig()
	cfg.PolePairs = 0
	if _, err := New(cfg, hal.NewLoopback().Hardware()); err == nil {
		t.Fatal("expected error for missing pole pairs")
	}
}

func TestStateStringUnknown(t *testing.T) {
	if got := State(99).String(); got != "UNKNOWN" {
		t.Fatalf("String() = %q, want UNKNOWN", got)
	}
}
