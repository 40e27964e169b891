// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hal

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Loopback is a software implementation of the four hal collaborators
// that never touches real hardware. It is used by -demo mode and by
// dshot's own tests: arming the Pulse Engine completes synchronously
// (after recording what was sent), and an optional reply can be queued so
// the following capture arm returns edges that decode back to a known GCR
// value — exercising the whole state machine, frame codec and GCR decoder
// without a board.
//
// Go forbids two methods of the same name with different signatures on
// one type, so the four hal interfaces are implemented by four thin views
// — Ticker, Pulse, Capture, Direction — that all share the one underlying
// mutex-guarded state.
type Loopback struct {
	mu sync.Mutex

	now uint32

	lastDuty []uint16
	dir      string // "output" or "input", for assertions in tests

	reply      []uint32 // queued capture samples for the next Arm
	replyArmed bool
	captureCB  func()
}

// NewLoopback returns a Loopback ticking from 0, pin direction "output".
func NewLoopback() *Loopback {
	return &Loopback{dir: "output"}
}

// Advance moves the simulated clock forward by n ticks and returns the new
// value, mirroring how a caller's own loop would advance its tick source.
func (l *Loopback) Advance(n uint32) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now += n
	return l.now
}

// LastDuty returns the duty buffer from the most recent Pulse.Arm call,
// for tests to inspect what the Frame Codec produced.
func (l *Loopback) LastDuty() []uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint16(nil), l.lastDuty...)
}

// QueueReply arms the next Capture.Arm call to report these samples as
// captured edges, simulating an ESC reply.
func (l *Loopback) QueueReply(edges []uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reply = edges
	l.replyArmed = true
}

// Direction reports the last-set pin direction ("output" or "input"), for
// tests to assert the invariant that the pin is never in output mode
// while the protocol is RECEIVING or WAIT_REPLY.
func (l *Loopback) Direction() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dir
}

// Ticker returns the Ticker view of l.
func (l *Loopback) Ticker() Ticker { return loopbackTicker{l} }

// Pulse returns the PulseEngine view of l.
func (l *Loopback) Pulse() PulseEngine { return loopbackPulse{l} }

// Capture returns the CaptureEngine view of l.
func (l *Loopback) Capture() CaptureEngine { return loopbackCapture{l} }

// DirectionPin returns the DirectionPin view of l. Named DirectionPin to
// avoid colliding with the Direction() inspector above.
func (l *Loopback) DirectionPin() DirectionPin { return loopbackDirection{l} }

// Hardware bundles all four views into a ready-to-use hal.Hardware.
func (l *Loopback) Hardware() Hardware {
	return Hardware{
		Ticker:  l.Ticker(),
		Pulse:   l.Pulse(),
		Capture: l.Capture(),
		Dir:     l.DirectionPin(),
	}
}

type loopbackTicker struct{ l *Loopback }

func (t loopbackTicker) Now() uint32 {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return t.l.now
}

type loopbackPulse struct{ l *Loopback }

// Arm implements PulseEngine. The transfer "completes" the instant it is
// armed — there is no real DMA to wait on — but done is still invoked so
// callers exercise the same completion path they would against hardware.
func (p loopbackPulse) Arm(duty []uint16, done func()) error {
	p.l.mu.Lock()
	p.l.lastDuty = append([]uint16(nil), duty...)
	p.l.mu.Unlock()
	if done != nil {
		done()
	}
	return nil
}

// Busy always reports false: Loopback's Arm never leaves a transfer in
// flight.
func (p loopbackPulse) Busy() bool { return false }

type loopbackCapture struct{ l *Loopback }

// Arm implements CaptureEngine.Arm. If a reply was queued it completes
// immediately with those samples; otherwise it waits for Stop.
func (c loopbackCapture) Arm(done func()) error {
	c.l.mu.Lock()
	queued := c.l.replyArmed
	c.l.replyArmed = false
	c.l.captureCB = done
	if queued {
		// done fires below; a later Stop must not fire it again.
		c.l.captureCB = nil
	}
	c.l.mu.Unlock()
	if queued && done != nil {
		done()
	}
	return nil
}

// Stop implements CaptureEngine.Stop.
func (c loopbackCapture) Stop() {
	c.l.mu.Lock()
	done := c.l.captureCB
	c.l.captureCB = nil
	c.l.mu.Unlock()
	if done != nil {
		done()
	}
}

// Samples implements CaptureEngine.Samples.
func (c loopbackCapture) Samples() []uint32 {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	return append([]uint32(nil), c.l.reply...)
}

type loopbackDirection struct{ l *Loopback }

// ToOutput implements DirectionPin.
func (d loopbackDirection) ToOutput(inverted bool) error {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	d.l.dir = "output"
	return nil
}

// ToInput implements DirectionPin.
func (d loopbackDirection) ToInput() error {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	d.l.dir = "input"
	return nil
}

// Pin implements DirectionPin; Loopback has no real gpio.PinIO so it
// returns nil. Callers that need pin diagnostics must use a hardware
// backend.
func (d loopbackDirection) Pin() gpio.PinIO { return nil }
