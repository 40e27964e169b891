// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dshot drives a single brushless-motor ESC over the DShot
// protocol: it builds command frames, streams them through the Pulse
// Engine, and — in bidirectional mode — flips the shared pin to input
// capture and decodes the GCR telemetry reply.
//
// dshot never schedules itself: send* methods and Poll are all called by
// the application's own update loop, and the two hardware completion
// callbacks (onPulseDone, onCaptureDone) are handed to the hal.Hardware
// backend's Arm calls, which invoke them from whatever interrupt or event
// source the backend uses.
package dshot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flightcore/dshot/frame"
	"github.com/flightcore/dshot/gcr"
	"github.com/flightcore/dshot/hal"
)

// State is one of the protocol state machine's five states. Unidirectional
// drivers only ever occupy Idle and Sending.
type State uint32

const (
	Idle State = iota
	Sending
	WaitReply
	Receiving
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Sending:
		return "SENDING"
	case WaitReply:
		return "WAIT_REPLY"
	case Receiving:
		return "RECEIVING"
	case Processing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}

// ErrBusy is returned by SendThrottle/SendCommand when the driver is not
// idle. Per the protocol's non-reentrancy rule this is not something
// callers are expected to treat as exceptional — they poll IsIdle and
// retry on the next tick.
var ErrBusy = errors.New("dshot: driver busy, not idle")

// Config holds the compile-time parameters of a single DShot channel. New
// rejects an unsupported SpeedKbps and a zero TickHz and, in bidirectional
// mode, a zero PolePairs or a non-positive CaptureSize; the other fields
// may be zero.
type Config struct {
	// SpeedKbps is the DShot bitrate: 150, 300, 600 or 1200.
	SpeedKbps uint32
	// TickHz is the PWM timer's reference frequency, in Hz.
	TickHz uint32
	// Bidirectional selects inverted framing and the reply-decode path. A
	// false value reduces the state machine to IDLE<->SENDING.
	Bidirectional bool
	// PolePairs is the motor's pole-pair count, used for every mechanical
	// RPM conversion — never raw pole count (see the package's open
	// question on this in the design ledger).
	PolePairs uint32
	// ReplyDelayTicks is how many of the caller's ticks WAIT_REPLY holds
	// before switching to input capture (typically ~1 tick at a nominal
	// 1ms tick, far coarser than the physical 25-30µs turnaround — safe
	// because capture runs continuously once armed).
	ReplyDelayTicks uint32
	// ReplyWindowTicks bounds how many ticks after the Pulse Engine
	// completes RECEIVING may run before capture is stopped and the frame
	// goes to decode.
	ReplyWindowTicks uint32
	// CaptureSize is the capture buffer's capacity in edges (N in the
	// component design; 32 in the reference firmware).
	CaptureSize int
	// GCROptions controls the GCR CRC form (see gcr.Options).
	GCROptions gcr.Options
}

func (c Config) validate() error {
	switch c.SpeedKbps {
	case 150, 300, 600, 1200:
	default:
		return fmt.Errorf("dshot: unsupported speed %d kbps", c.SpeedKbps)
	}
	if c.TickHz == 0 {
		return errors.New("dshot: TickHz must be non-zero")
	}
	if c.Bidirectional && c.PolePairs == 0 {
		return errors.New("dshot: PolePairs must be non-zero for bidirectional telemetry")
	}
	if c.Bidirectional && c.CaptureSize <= 0 {
		return errors.New("dshot: CaptureSize must be positive for bidirectional mode")
	}
	return nil
}

// Telemetry is the caller-visible decoded-rpm record plus the frame
// counters. A decoded rpm is only ever published on a successful CRC
// check; on failure the previous Telemetry is retained untouched and
// Errors increments.
type Telemetry struct {
	RPMElectrical uint32
	RPMMechanical uint32
	RawPeriod     uint16
	LastUpdate    uint32
	Valid         bool

	FramesSent uint32
	Successes  uint32
	Errors     uint32
}

// Driver is a single DShot channel bound to one hal.Hardware. It is not
// safe for concurrent Send* calls from multiple goroutines — the protocol
// is single-channel and single-threaded by design (see the concurrency
// model) — but its completion callbacks (onPulseDone/onCaptureDone) may
// run concurrently with Poll the way a real interrupt would.
type Driver struct {
	cfg Config
	hw  hal.Hardware
	dp  frame.DutyParams

	mu       sync.Mutex // guards duty/capture buffer ownership and t*
	state    atomic.Uint32
	tReady   uint32
	dutyBuf  frame.Sequence
	inFlight atomic.Bool

	framesSent atomic.Uint32
	successes  atomic.Uint32
	errors     atomic.Uint32

	telMu    sync.Mutex
	tel      Telemetry
	telAvail atomic.Bool
}

// New constructs a Driver bound to hw. It does not touch the hardware
// beyond what hw's own construction already did — init() on the hal
// backend is the caller's responsibility and, per the resource-discipline
// rule, must not be called twice.
func New(cfg Config, hw hal.Hardware) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dp, err := frame.NewDutyParams(cfg.SpeedKbps, cfg.TickHz)
	if err != nil {
		return nil, err
	}
	d := &Driver{cfg: cfg, hw: hw, dp: dp}
	if err := hw.Dir.ToOutput(cfg.Bidirectional); err != nil {
		return nil, fmt.Errorf("dshot: initial ToOutput: %w", err)
	}
	return d, nil
}

// String implements conn.Resource.
func (d *Driver) String() string {
	return fmt.Sprintf("dshot(%dkbps,bidir=%v)", d.cfg.SpeedKbps, d.cfg.Bidirectional)
}

// Halt implements conn.Resource. It stops any in-flight capture; a
// send already streaming through the Pulse Engine cannot be aborted (see
// §5's accepted limitation on SENDING without a done interrupt).
func (d *Driver) Halt() error {
	if State(d.state.Load()) == Receiving {
		d.hw.Capture.Stop()
	}
	return nil
}

// IsIdle reports whether a new Send* will be accepted.
func (d *Driver) IsIdle() bool {
	return State(d.state.Load()) == Idle
}

// SendThrottle encodes value (clamped to the throttle ceiling), with the
// telemetry-request bit set in bidirectional mode and clear in
// unidirectional mode, and arms the Pulse Engine. It is silently rejected —
// returning ErrBusy — unless the driver is Idle.
func (d *Driver) SendThrottle(value int) error {
	return d.send(frame.Clamp(value), true)
}

// SendCommand encodes cmd (a DShot command code, 0-47) with no telemetry
// request bit set on the wire — bidirectional mode still uses the
// inverted wire format regardless.
func (d *Driver) SendCommand(cmd uint16) error {
	return d.send(cmd, false)
}

func (d *Driver) send(value uint16, telemetryRequest bool) error {
	if !d.state.CompareAndSwap(uint32(Idle), uint32(Sending)) {
		return ErrBusy
	}

	reqBit := telemetryRequest && d.cfg.Bidirectional
	d.mu.Lock()
	d.dutyBuf = frame.Encode(value, reqBit, d.cfg.Bidirectional, d.dp)
	duty := d.dutyBuf[:]
	d.mu.Unlock()

	d.inFlight.Store(true)
	d.framesSent.Add(1)

	if err := d.hw.Dir.ToOutput(d.cfg.Bidirectional); err != nil {
		d.retire(false)
		return fmt.Errorf("dshot: ToOutput: %w", err)
	}
	if err := d.hw.Pulse.Arm(duty, d.onPulseDone); err != nil {
		d.retire(false)
		return fmt.Errorf("dshot: Pulse.Arm: %w", err)
	}
	return nil
}

// onPulseDone is the Pulse Engine's completion callback: SENDING -> either
// IDLE (unidirectional) or WAIT_REPLY (bidirectional). It runs in whatever
// context the hal backend completes transfers in (an ISR on real
// hardware) and must stay fast and non-blocking, per the concurrency
// model.
func (d *Driver) onPulseDone() {
	if !d.cfg.Bidirectional {
		d.retire(true)
		return
	}
	d.mu.Lock()
	d.tReady = d.hw.Ticker.Now()
	d.mu.Unlock()
	d.state.Store(uint32(WaitReply))
}

// Poll cooperatively advances the state machine. It must be called
// regularly by the caller's own update loop; it never blocks.
func (d *Driver) Poll(now uint32) {
	switch State(d.state.Load()) {
	case WaitReply:
		d.mu.Lock()
		ready := now-d.tReady >= d.cfg.ReplyDelayTicks
		d.mu.Unlock()
		if !ready {
			return
		}
		// Pin stays in output-compare mode for the rest of WaitReply; it
		// only flips to input here, on the WaitReply->Receiving edge, per
		// the transition table's side effects.
		if err := d.hw.Dir.ToInput(); err != nil {
			d.retire(false)
			return
		}
		// Enter Receiving before arming, so a capture that completes inside
		// Arm finds the state onCaptureDone advances from.
		d.state.Store(uint32(Receiving))
		if err := d.hw.Capture.Arm(d.onCaptureDone); err != nil {
			d.retire(false)
			return
		}

	case Receiving:
		d.mu.Lock()
		elapsed := now - d.tReady
		d.mu.Unlock()
		samples := d.hw.Capture.Samples()
		if len(samples) >= gcr.ReplyBits-1 || elapsed >= d.cfg.ReplyWindowTicks {
			d.hw.Capture.Stop()
			d.state.Store(uint32(Processing))
		}

	case Processing:
		d.process()
		if err := d.hw.Dir.ToOutput(d.cfg.Bidirectional); err != nil {
			// Fall through to IDLE regardless; the next send will retry
			// ToOutput and surface a persistent wiring problem then.
			_ = err
		}
		d.retire(true)
	}
}

// onCaptureDone is the Capture Engine's completion callback, mirroring
// onPulseDone's contract.
func (d *Driver) onCaptureDone() {
	d.state.CompareAndSwap(uint32(Receiving), uint32(Processing))
}

// process runs the GCR decode pipeline over the quiesced capture buffer.
// It is only ever called from Poll while in Processing, after both DMA
// streams are disabled, satisfying the "PROCESSING observes a quiesced
// buffer" ordering guarantee.
func (d *Driver) process() {
	samples := d.hw.Capture.Samples()
	bitPeriod := gcr.ReplyBitPeriod(d.cfg.SpeedKbps, d.cfg.TickHz)
	rec, err := gcr.Decode(samples, 1, bitPeriod, d.cfg.PolePairs, d.cfg.GCROptions)
	if err != nil {
		d.errors.Add(1)
		return
	}
	d.successes.Add(1)
	d.telMu.Lock()
	d.tel.RPMElectrical = rec.RPMElectrical
	d.tel.RPMMechanical = rec.RPMMechanical
	d.tel.RawPeriod = rec.Period
	d.tel.LastUpdate = d.hw.Ticker.Now()
	d.tel.Valid = true
	d.telMu.Unlock()
	d.telAvail.Store(true)
}

// retire returns the driver to Idle and clears in-flight bookkeeping. If
// success is false the frame is counted as an error rather than silently
// dropped — every accepted frame ends up counted in exactly one of
// successes/errors/in_flight, per the frames_sent invariant.
func (d *Driver) retire(success bool) {
	d.inFlight.Store(false)
	if !success {
		d.errors.Add(1)
	} else if !d.cfg.Bidirectional {
		// Unidirectional sends have no reply to verify: completion of the
		// Pulse Engine alone is success.
		d.successes.Add(1)
	}
	d.state.Store(uint32(Idle))
}

// LatestTelemetry returns the most recently decoded telemetry record plus
// the frame counters. The rpm fields and the valid flag are read together
// under a lock; the counters are loaded atomically after it.
func (d *Driver) LatestTelemetry() Telemetry {
	d.telMu.Lock()
	t := d.tel
	d.telMu.Unlock()
	t.FramesSent = d.framesSent.Load()
	t.Successes = d.successes.Load()
	t.Errors = d.errors.Load()
	return t
}

// ConsumeTelemetryAvailable reads and clears the one-shot "new telemetry"
// flag.
func (d *Driver) ConsumeTelemetryAvailable() bool {
	return d.telAvail.Swap(false)
}

// State returns the current protocol state, mainly for diagnostics and
// tests; callers should use IsIdle for control flow.
func (d *Driver) State() State {
	return State(d.state.Load())
}
