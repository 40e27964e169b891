// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpiocdev adapts a single Linux GPIO v2 character-device line,
// registered by the gpioioctl driver at periph init, into the hal
// collaborators that do not require a PWM/DMA peripheral: DirectionPin,
// Ticker and CaptureEngine.
//
// It has no PulseEngine of its own — the GPIO v2 chardev ioctl path has no
// compare register or DMA engine to stream a duty sequence through. Pair
// Backend's Dir/Capture/Ticker with bcm283x's PulseEngine, or with a
// software bit-bang PulseEngine, to get a complete hal.Hardware.
package gpiocdev

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/flightcore/dshot/hal"
)

// Backend is a single named GPIO line plus the capture bookkeeping needed
// to implement hal.CaptureEngine over repeated WaitForEdge calls.
type Backend struct {
	pin gpio.PinIO

	mu      sync.Mutex
	samples []uint32
	cap     int
	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

// Open looks up name via gpioreg — populated by gpioioctl's driver during
// periph host init — and returns a Backend bound to that line. captureSize
// bounds how many edge timestamps Samples will ever report.
func Open(name string, captureSize int) (*Backend, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpiocdev: pin %q not found; was driverreg/periph host init run?", name)
	}
	if captureSize <= 0 {
		return nil, errors.New("gpiocdev: captureSize must be positive")
	}
	return &Backend{pin: p, cap: captureSize}, nil
}

// Ticker returns a hal.Ticker view reporting wall-clock microseconds,
// truncated to 32 bits the same way the timer-counter ticks this protocol
// is modeled against wrap.
func (b *Backend) Ticker() hal.Ticker { return backendTicker{} }

type backendTicker struct{}

func (backendTicker) Now() uint32 { return uint32(time.Now().UnixMicro()) }

// Dir returns the hal.DirectionPin view of b.
func (b *Backend) Dir() hal.DirectionPin { return backendDir{b} }

type backendDir struct{ b *Backend }

// ToOutput implements hal.DirectionPin. inverted chooses the idle level:
// bidirectional DShot idles high, so inverted drives the line high before
// any duty cycle is pushed through a paired PulseEngine.
func (d backendDir) ToOutput(inverted bool) error {
	lvl := gpio.Low
	if inverted {
		lvl = gpio.High
	}
	return d.b.pin.Out(lvl)
}

// ToInput implements hal.DirectionPin: pull-up, both-edges, matching the
// GCR reply's idle-high convention.
func (d backendDir) ToInput() error {
	return d.b.pin.In(gpio.PullUp, gpio.BothEdges)
}

func (d backendDir) Pin() gpio.PinIO { return d.b.pin }

// Capture returns the hal.CaptureEngine view of b.
func (b *Backend) Capture() hal.CaptureEngine { return backendCapture{b} }

type backendCapture struct{ b *Backend }

// Arm implements hal.CaptureEngine.Arm by spinning a goroutine that polls
// WaitForEdge in short bursts, appending a wall-clock tick on each edge,
// until the buffer fills or Stop is called. The poll interval, not a real
// interrupt, is this backend's resolution floor — acceptable for bench
// testing and low command rates, not for production reply timing at
// DShot600+ (see bcm283x for a capture path with real hardware latency).
func (c backendCapture) Arm(done func()) error {
	b := c.b
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("gpiocdev: capture already armed")
	}
	b.samples = b.samples[:0]
	b.stopCh = make(chan struct{})
	b.running = true
	stopCh := b.stopCh
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
			if done != nil {
				done()
			}
		}()
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			if !b.pin.WaitForEdge(50 * time.Millisecond) {
				continue
			}
			b.mu.Lock()
			full := len(b.samples) >= b.cap
			if !full {
				b.samples = append(b.samples, uint32(time.Now().UnixMicro()))
			}
			b.mu.Unlock()
			if full {
				return
			}
		}
	}()
	return nil
}

// Stop implements hal.CaptureEngine.Stop.
func (c backendCapture) Stop() {
	b := c.b
	b.mu.Lock()
	running := b.running
	stopCh := b.stopCh
	b.mu.Unlock()
	if !running {
		return
	}
	close(stopCh)
	_ = b.pin.Halt()
	b.wg.Wait()
}

// Samples implements hal.CaptureEngine.Samples.
func (c backendCapture) Samples() []uint32 {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint32(nil), b.samples...)
}
