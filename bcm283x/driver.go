// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package bcm283x

import (
	"fmt"

	"periph.io/x/conn/v3/driver/driverreg"

	"github.com/flightcore/dshot/hal"
)

// driverBCM283x registers bcm283x with periph.io's driver registry purely
// so -demo/diagnostic tooling can list it alongside gpioioctl; actual
// Hardware construction happens through Open, not through driver Init,
// since a DShot channel needs an explicit pin number and clock request.
type driverBCM283x struct{}

func (driverBCM283x) String() string          { return "bcm283x" }
func (driverBCM283x) Prerequisites() []string { return nil }
func (driverBCM283x) After() []string         { return nil }

func (driverBCM283x) Init() (bool, error) {
	if _, err := peripheralBase(); err != nil {
		return false, err
	}
	return true, nil
}

func init() {
	driverreg.MustRegister(&driverBCM283x{})
}

// Open memory-maps the system timer, PWM and GPIO register blocks and
// configures pin for a single DShot channel: requestedTickHz selects the
// PWM clock divisor (see NewEngine), bitPeriodTicks is the command bit
// period in resulting ticks (frame.NewDutyParams' BitPeriod), and
// captureSize bounds the GCR reply capture buffer. The returned TickHz
// must be the one a dshot.Config is built with — the PWM clock divisor is
// integral, so the requested and actual rates can differ slightly.
func Open(pinNumber uint32, requestedTickHz, bitPeriodTicks uint32, captureSize int) (hal.Hardware, uint32, error) {
	timer, err := openSysTimer()
	if err != nil {
		return hal.Hardware{}, 0, err
	}
	engine, tickHz, err := NewEngine(requestedTickHz, bitPeriodTicks, timer)
	if err != nil {
		return hal.Hardware{}, 0, fmt.Errorf("bcm283x: pwm engine: %w", err)
	}
	p, err := openPin(pinNumber, timer)
	if err != nil {
		return hal.Hardware{}, 0, fmt.Errorf("bcm283x: gpio: %w", err)
	}
	hw := hal.Hardware{
		Ticker:  timer.Ticker(),
		Pulse:   engine,
		Capture: p.Capture(captureSize),
		Dir:     p.Dir(),
	}
	return hw, tickHz, nil
}
