// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package serialtm parses the unidirectional ESC telemetry variant: a
// fixed 10-byte KISS/BLHeli32 packet arriving over an asynchronous serial
// link, independent of and running alongside the DShot command stream.
package serialtm

import "fmt"

// PacketSize is the fixed telemetry packet length, CRC byte included.
const PacketSize = 10

// PacketTimeoutTicks bounds the inter-byte gap: if the caller's own tick
// source advances this far without a new byte arriving, the partial
// packet is discarded rather than risking a stale byte later combining
// with a fresh stream into a false CRC match.
const PacketTimeoutTicks = 100

// crc8Table is the poly-0xD5 CRC-8 lookup table (MSB-first, no reflect,
// no final XOR), built once at init so crc8 is a single table lookup
// per byte rather than a bit loop.
var crc8Table = buildCRC8Table(0xD5)

func buildCRC8Table(poly byte) [256]byte {
	var t [256]byte
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for b := 0; b < 8; b++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// crc8 computes the packet CRC over data, initial value 0.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}

// Record is a decoded telemetry packet. Voltage and current are kept in
// their native centi-units; Volts/Amps convert to float64 only at the
// display boundary, never in the parser itself.
type Record struct {
	TemperatureC   uint8
	VoltageCentiV  uint16
	CurrentCentiA  uint16
	ConsumptionMAh uint16
	RPMElectrical  uint32
	RPMMechanical  uint32
}

// Volts returns the voltage reading as a float, for display only.
func (r Record) Volts() float64 { return float64(r.VoltageCentiV) / 100 }

// Amps returns the current reading as a float, for display only.
func (r Record) Amps() float64 { return float64(r.CurrentCentiA) / 100 }

// Errors Parser.Feed tracks internally (never returned: discarding a bad
// packet is normal operation, not a caller-visible failure).
var (
	errCRCMismatch = fmt.Errorf("serialtm: CRC-8 mismatch")
)

// Counters accumulates the parser's error taxonomy for diagnostics,
// mirroring the frame counters the bidirectional driver exposes.
type Counters struct {
	PacketsOK uint32
	CRCErrors uint32
	Timeouts  uint32
	Overruns  uint32
}

// Parser reassembles the byte stream into 10-byte packets. It is driven
// by the caller's own read loop: Feed for each received byte, Overrun on
// a hardware overrun flag, and CheckTimeout once per tick to expire a
// stalled partial packet.
type Parser struct {
	polePairs uint32

	buf      [PacketSize]byte
	n        int
	lastTick uint32

	counters Counters
	latest   Record
	valid    bool
	avail    bool
}

// NewParser constructs a Parser. polePairs is used for every
// mechanical-RPM conversion, exactly like the bidirectional decoder's
// convention, per motor_pole_pairs standardizing both paths; a zero
// polePairs yields a mechanical RPM of 0.
func NewParser(polePairs uint32) *Parser {
	return &Parser{polePairs: polePairs}
}

// Feed appends one received byte at tick now. If a partial packet has
// been sitting longer than PacketTimeoutTicks, it is dropped before b is
// appended, so a stale byte can never combine with a fresh stream into a
// false CRC match. When the 10th byte completes a packet, the CRC is
// checked immediately and the buffer is always cleared afterward, win or
// lose.
func (p *Parser) Feed(b byte, now uint32) {
	if p.n > 0 && now-p.lastTick > PacketTimeoutTicks {
		p.n = 0
		p.counters.Timeouts++
	}
	p.buf[p.n] = b
	p.n++
	p.lastTick = now
	if p.n < PacketSize {
		return
	}
	p.complete()
}

// complete validates a full buffer and resets it.
func (p *Parser) complete() {
	defer func() { p.n = 0 }()

	if crc8(p.buf[:PacketSize-1]) != p.buf[PacketSize-1] {
		p.counters.CRCErrors++
		return
	}
	erpmField := uint32(p.buf[7])<<8 | uint32(p.buf[8])
	electrical := erpmField * 100
	var mechanical uint32
	if p.polePairs != 0 {
		mechanical = 2 * electrical / p.polePairs
	}
	p.latest = Record{
		TemperatureC:   p.buf[0],
		VoltageCentiV:  uint16(p.buf[1])<<8 | uint16(p.buf[2]),
		CurrentCentiA:  uint16(p.buf[3])<<8 | uint16(p.buf[4]),
		ConsumptionMAh: uint16(p.buf[5])<<8 | uint16(p.buf[6]),
		RPMElectrical:  electrical,
		RPMMechanical:  mechanical,
	}
	p.valid = true
	p.avail = true
	p.counters.PacketsOK++
}

// CheckTimeout expires a stalled partial packet: if a byte is in the
// buffer and now has advanced more than PacketTimeoutTicks past the last
// byte received, the buffer is dropped silently.
func (p *Parser) CheckTimeout(now uint32) {
	if p.n == 0 {
		return
	}
	if now-p.lastTick > PacketTimeoutTicks {
		p.n = 0
		p.counters.Timeouts++
	}
}

// Overrun clears the in-progress buffer in response to a hardware
// overrun indication, per the serial wire's error taxonomy.
func (p *Parser) Overrun() {
	p.n = 0
	p.counters.Overruns++
}

// Latest returns the most recently decoded record and whether one has
// ever been decoded.
func (p *Parser) Latest() (Record, bool) {
	return p.latest, p.valid
}

// ConsumeAvailable reads and clears the one-shot "new data" flag.
func (p *Parser) ConsumeAvailable() bool {
	v := p.avail
	p.avail = false
	return v
}

// Counters returns the accumulated error/success counts.
func (p *Parser) Counters() Counters { return p.counters }
