// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package bcm283x

import (
	"errors"
	"sync"

	"github.com/flightcore/dshot/hal"
)

// PWM register offsets, BCM2835 ARM Peripherals manual pages 138-145.
// Channel 1 only; this package drives a single DShot line.
const (
	pwmRegCTL  = 0x00 / 4
	pwmRegSTA  = 0x04 / 4
	pwmRegRNG1 = 0x10 / 4
	pwmRegDAT1 = 0x14 / 4
)

const (
	pwmCTLPWEN1 = 1 << 0
	pwmCTLMSEN1 = 1 << 7 // mark:space, not serialized PCM-style
)

const pwmOffset = 0x20c000

// Clock Manager registers controlling the PWM clock generator, pages
// 105-108. Writing CTL or DIV requires the 0x5a password in bits 31:24.
const (
	cmRegPWMCTL = 0xa0 / 4
	cmRegPWMDIV = 0xa4 / 4
)

const (
	cmPasswd    = 0x5a << 24
	cmCTLEnable = 1 << 4
	cmCTLKill   = 1 << 5
	cmCTLBusy   = 1 << 7
	cmCTLSrcOsc = 1 // 19.2MHz crystal oscillator
)

const cmOffset = 0x101000

const oscillatorHz = 19_200_000

// pwmClock owns the clock manager registers needed to derive the PWM
// peripheral's clock from the board oscillator.
type pwmClock struct {
	regs []uint32
}

func openPWMClock() (*pwmClock, error) {
	regs, err := mmapRegisters(cmOffset, clkSize)
	if err != nil {
		return nil, err
	}
	return &pwmClock{regs: regs}, nil
}

// setDivisor stops the PWM clock, sets an integer divisor against the
// 19.2MHz oscillator, and restarts it, returning the resulting frequency.
func (c *pwmClock) setDivisor(divisor uint32) uint32 {
	c.regs[cmRegPWMCTL] = cmPasswd | cmCTLKill
	for c.regs[cmRegPWMCTL]&cmCTLBusy != 0 {
	}
	c.regs[cmRegPWMDIV] = cmPasswd | (divisor << 12)
	c.regs[cmRegPWMCTL] = cmPasswd | cmCTLSrcOsc
	c.regs[cmRegPWMCTL] = cmPasswd | cmCTLSrcOsc | cmCTLEnable
	return oscillatorHz / divisor
}

// errBusyCapture is returned by pinCapture.Arm when a capture is already
// in flight.
var errBusyCapture = errors.New("bcm283x: capture already armed")

// errBusyPulse is returned by Engine.Arm when a transfer is still being
// clocked out.
var errBusyPulse = errors.New("bcm283x: pulse transfer already in flight")

// Engine drives duty values through the PWM peripheral's channel 1 in
// mark:space mode: each slot sets DAT1 and busy-waits one bit period
// against the free-running system timer, the same pacing discipline a
// DMA-fed control-block chain would apply, with the DMA engine itself
// out of scope (see the design notes on bus-address allocation).
type Engine struct {
	regs    []uint32
	clk     *pwmClock
	timer   *sysTimer
	tickHz  uint32
	period  uint32 // RNG1, in PWM clock ticks

	mu   sync.Mutex
	busy bool
}

// NewEngine configures the PWM clock from a requested tick frequency
// (rounded down to the nearest integer oscillator divisor) and returns an
// Engine plus the TickHz a Config must be built with to match it.
func NewEngine(requestedTickHz uint32, bitPeriodTicks uint32, timer *sysTimer) (*Engine, uint32, error) {
	regs, err := mmapRegisters(pwmOffset, pwmSize)
	if err != nil {
		return nil, 0, err
	}
	clk, err := openPWMClock()
	if err != nil {
		return nil, 0, err
	}
	if requestedTickHz == 0 {
		return nil, 0, errors.New("bcm283x: requestedTickHz must be non-zero")
	}
	divisor := oscillatorHz / requestedTickHz
	if divisor == 0 {
		divisor = 1
	}
	tickHz := clk.setDivisor(divisor)

	e := &Engine{regs: regs, clk: clk, timer: timer, tickHz: tickHz, period: bitPeriodTicks}
	e.regs[pwmRegRNG1] = bitPeriodTicks
	e.regs[pwmRegCTL] = pwmCTLMSEN1 | pwmCTLPWEN1
	return e, tickHz, nil
}

// Arm implements hal.PulseEngine.Arm by clocking each duty value through
// DAT1 in turn. done is invoked once the final slot's period has elapsed.
// The clocking runs on its own goroutine so Arm itself returns
// immediately, matching the interrupt-driven contract real DMA hardware
// would give callers.
func (e *Engine) Arm(duty []uint16, done func()) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return errBusyPulse
	}
	e.busy = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.busy = false
			e.mu.Unlock()
			if done != nil {
				done()
			}
		}()
		deadline := e.timer.lo32()
		for _, d := range duty {
			e.regs[pwmRegDAT1] = uint32(d)
			deadline += e.period
			e.timer.busyWaitUntil(deadline)
		}
	}()
	return nil
}

// Busy implements hal.PulseEngine.Busy.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

var _ hal.PulseEngine = (*Engine)(nil)
