// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package bcm283x

import (
	"sync"

	"periph.io/x/conn/v3/gpio"

	"github.com/flightcore/dshot/hal"
)

// GPIO register offsets, BCM2835 ARM Peripherals manual pages 90-91.
const (
	gpioRegFSEL0   = 0x00 / 4
	gpioRegSET0    = 0x1c / 4
	gpioRegCLR0    = 0x28 / 4
	gpioRegLEV0    = 0x34 / 4
	gpioRegPUD     = 0x94 / 4
	gpioRegPUDCLK0 = 0x98 / 4
)

const gpioOffset = 0x200000

const (
	fselInput  = 0b000
	fselOutput = 0b001
)

// pin is a single GPIO line driven by direct register access rather than
// the kernel GPIO v2 chardev — this package exists specifically to bypass
// that path's syscall-per-operation overhead for the Pulse/Capture
// engines' tight timing.
type pin struct {
	number uint32
	regs   []uint32
	timer  *sysTimer
}

func openPin(number uint32, timer *sysTimer) (*pin, error) {
	regs, err := mmapRegisters(gpioOffset, gpioSize)
	if err != nil {
		return nil, err
	}
	return &pin{number: number, regs: regs, timer: timer}, nil
}

func (p *pin) setFunction(fn uint32) {
	reg := gpioRegFSEL0 + int(p.number/10)
	shift := (p.number % 10) * 3
	v := p.regs[reg]
	v &^= 0b111 << shift
	v |= fn << shift
	p.regs[reg] = v
}

func (p *pin) setLevel(high bool) {
	mask := uint32(1) << (p.number % 32)
	if high {
		p.regs[gpioRegSET0+int(p.number/32)] = mask
	} else {
		p.regs[gpioRegCLR0+int(p.number/32)] = mask
	}
}

func (p *pin) readLevel() bool {
	mask := uint32(1) << (p.number % 32)
	return p.regs[gpioRegLEV0+int(p.number/32)]&mask != 0
}

// pullUp applies the classic BCM2835 pull control sequence (pages 101-102):
// set the desired pull in GPPUD, clock it into the target pin via
// GPPUDCLK, then clear both.
func (p *pin) pullUp() {
	const pudUp = 2
	p.regs[gpioRegPUD] = pudUp
	spinDelay()
	p.regs[gpioRegPUDCLK0+int(p.number/32)] = 1 << (p.number % 32)
	spinDelay()
	p.regs[gpioRegPUD] = 0
	p.regs[gpioRegPUDCLK0+int(p.number/32)] = 0
}

func spinDelay() {
	for i := 0; i < 150; i++ {
	}
}

// Dir returns the hal.DirectionPin view of p.
func (p *pin) Dir() hal.DirectionPin { return pinDir{p} }

type pinDir struct{ p *pin }

// ToOutput implements hal.DirectionPin. inverted sets the idle level high
// to match bidirectional DShot's idle-high convention.
func (d pinDir) ToOutput(inverted bool) error {
	d.p.setLevel(inverted)
	d.p.setFunction(fselOutput)
	return nil
}

// ToInput implements hal.DirectionPin: input with an internal pull-up, so
// an undriven line reads high exactly like the GCR reply's idle state.
func (d pinDir) ToInput() error {
	d.p.setFunction(fselInput)
	d.p.pullUp()
	return nil
}

// Pin implements hal.DirectionPin.Pin. bcm283x talks to the GPIO
// peripheral directly rather than through a periph.io gpio.PinIO, so
// there is no pin to hand back for diagnostics; see hal/gpiocdev for a
// backend that does expose one.
func (d pinDir) Pin() gpio.PinIO { return nil }

// Capture returns the hal.CaptureEngine view of p: a tight register-read
// loop watching for level transitions, timestamped against the free-
// running system timer. Armed on its own goroutine so Poll never blocks.
func (p *pin) Capture(captureSize int) hal.CaptureEngine {
	return &pinCapture{p: p, cap: captureSize}
}

type pinCapture struct {
	p *pin

	mu      sync.Mutex
	samples []uint32
	cap     int
	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// Arm implements hal.CaptureEngine.Arm.
func (c *pinCapture) Arm(done func()) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errBusyCapture
	}
	if c.cap == 0 {
		c.cap = gcrCaptureDefault
	}
	c.samples = c.samples[:0]
	c.stop = make(chan struct{})
	c.running = true
	stop := c.stop
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			if done != nil {
				done()
			}
		}()
		last := c.p.readLevel()
		for {
			select {
			case <-stop:
				return
			default:
			}
			lvl := c.p.readLevel()
			if lvl != last {
				last = lvl
				c.mu.Lock()
				full := len(c.samples) >= c.cap
				if !full {
					c.samples = append(c.samples, c.p.timer.lo32())
				}
				c.mu.Unlock()
				if full {
					return
				}
			}
		}
	}()
	return nil
}

// Stop implements hal.CaptureEngine.Stop.
func (c *pinCapture) Stop() {
	c.mu.Lock()
	running := c.running
	stop := c.stop
	c.mu.Unlock()
	if !running {
		return
	}
	close(stop)
	c.wg.Wait()
}

// Samples implements hal.CaptureEngine.Samples.
func (c *pinCapture) Samples() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.samples...)
}

// gcrCaptureDefault bounds the capture buffer when a caller constructs a
// Hardware without specifying one, matching the reply's own 21-bit length
// plus margin.
const gcrCaptureDefault = 32
