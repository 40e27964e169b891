// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package bcm283x

import "github.com/flightcore/dshot/hal"

// System Timer peripheral register offsets, BCM2835 ARM Peripherals
// manual pages 172-173: a free-running 1MHz counter, CLO/CHI, readable
// without disabling interrupts (unlike the ARM-local cycle counter).
const (
	sysTRegCS  = 0
	sysTRegCLO = 1
	sysTRegCHI = 2
)

const sysTimerOffset = 0x3000

// sysTimer wraps the free-running 1MHz counter as both a hal.Ticker and
// the tick source the Pulse/Capture engines busy-wait against.
type sysTimer struct {
	regs []uint32
}

func openSysTimer() (*sysTimer, error) {
	regs, err := mmapRegisters(sysTimerOffset, sysTSize)
	if err != nil {
		return nil, err
	}
	return &sysTimer{regs: regs}, nil
}

// lo32 returns the counter's low 32 bits: microseconds since boot,
// wrapping every ~71 minutes. This is the tick unit bcm283x exposes
// throughout — 1 tick == 1 microsecond.
func (t *sysTimer) lo32() uint32 { return t.regs[sysTRegCLO] }

// Ticker returns the hal.Ticker view of t.
func (t *sysTimer) Ticker() hal.Ticker { return sysTimerTicker{t} }

type sysTimerTicker struct{ t *sysTimer }

func (s sysTimerTicker) Now() uint32 { return s.t.lo32() }

// busyWaitUntil spins until the free-running counter reaches target,
// tolerating one wrap. Used by the Pulse Engine to hit each duty slot's
// deadline without a scheduler-induced jitter source between them.
func (t *sysTimer) busyWaitUntil(target uint32) {
	for {
		now := t.lo32()
		if now == target || (target-now) > 0x80000000 {
			return
		}
	}
}
