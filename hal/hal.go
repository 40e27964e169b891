// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hal declares the hardware contracts the DShot protocol state
// machine is built against: a monotonic ticker, a PWM timer whose compare
// register is driven by DMA (the Pulse Engine), input capture of edges on
// the same timer channel (the Capture Engine), and the pin-direction
// switch between the two (Direction Control).
//
// Concrete implementations live in sibling packages: bcm283x drives real
// Raspberry Pi PWM, system-timer and GPIO registers (CPU-paced, without
// DMA), gpiocdev falls back to the Linux GPIO
// v2 character-device ioctl path for boards without a DMA-capable PWM
// peripheral, and Loopback in this package synthesizes a reply in software
// for tests and -demo mode.
package hal

import "periph.io/x/conn/v3/gpio"

// Ticker is the caller-supplied monotonic clock. Its unit is whatever the
// application uses for scheduling — nominally 1ms — and is intentionally
// much coarser than the physical reply window (25-50µs): the Capture
// Engine keeps capturing edges continuously regardless of when poll()
// happens to run, so the tick only needs to be fine enough to bound
// RECEIVING and retire a stuck frame, not to time the wire protocol itself.
type Ticker interface {
	Now() uint32
}

// PulseEngine drives exactly len(duty) timer periods onto the signal pin,
// one duty value per period, via DMA into the timer's compare register.
//
// Arm must not be called while a previous transfer is still in flight —
// callers are expected to wait for Done before rearming; implementations
// may spin briefly on a DMA-enable bit but must not block indefinitely.
// The duty slice is read by DMA hardware or a software stand-in and must
// not be mutated by the caller until Done fires.
type PulseEngine interface {
	// Arm starts streaming duty into the compare register. done is called
	// exactly once, from whatever context the implementation completes in
	// (an interrupt handler on real hardware), when the final slot has
	// taken effect.
	Arm(duty []uint16, done func()) error
	// Busy reports whether a transfer is still in flight.
	Busy() bool
}

// CaptureEngine records timer-counter snapshots, one per edge detected on
// the signal pin, into a driver-owned buffer of capacity N. It stops on
// buffer-full, on Stop, or when an implementation-internal timeout elapses
// — whichever happens first — and reports how many of the N slots hold a
// valid sample.
type CaptureEngine interface {
	// Arm begins capturing edges. done is called exactly once when capture
	// stops for any reason.
	Arm(done func()) error
	// Stop ends capture early (RECEIVING timeout or edge-count threshold
	// reached, per the protocol state machine).
	Stop()
	// Samples returns the timer-counter value at each captured edge, in
	// capture order, truncated to the number of valid samples.
	Samples() []uint32
}

// DirectionPin switches the shared signal-pin/timer-channel between
// push-pull compare-output (ToOutput) and pulled-up input-capture
// (ToInput). Both operations are idempotent: calling either twice in a row,
// or interleaved with the other and back, leaves the pin in the requested
// mode with no side effect beyond the final state.
type DirectionPin interface {
	// ToOutput configures push-pull compare-output, active-high or
	// active-low-idle-high depending on inverted, no pull, very-high slew.
	ToOutput(inverted bool) error
	// ToInput configures input-capture on both edges with an internal
	// pull-up, so the idle line reads high.
	ToInput() error
	// Pin exposes the underlying conn/gpio pin for diagnostics (Read,
	// Name) without widening the Direction Control contract itself.
	Pin() gpio.PinIO
}

// Hardware bundles the three collaborators a single DShot channel needs,
// plus the ticker, so constructing a Driver only takes one argument.
type Hardware struct {
	Ticker  Ticker
	Pulse   PulseEngine
	Capture CaptureEngine
	Dir     DirectionPin
}
