// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package serialtm

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port opens the fixed 115200-8N1 wire a KISS/BLHeli32 ESC telemetry
// stream runs on and drives a Parser from it.
type Port struct {
	port   serial.Port
	parser *Parser
}

// OpenPort opens portPath at the protocol's fixed rate and binds it to a
// new Parser for polePairs.
func OpenPort(portPath string, polePairs uint32) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, fmt.Errorf("serialtm: open %s: %w", portPath, err)
	}
	if err := p.SetReadTimeout(100 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("serialtm: set read timeout: %w", err)
	}
	return &Port{port: p, parser: NewParser(polePairs)}, nil
}

// Close releases the underlying serial port.
func (p *Port) Close() error { return p.port.Close() }

// Parser returns the Parser this Port feeds, for Latest/ConsumeAvailable.
func (p *Port) Parser() *Parser { return p.parser }

// Pump reads whatever is available and feeds it to the Parser, using
// elapsed wall-clock microseconds as the tick source CheckTimeout
// compares against. It returns the byte count read; a zero count with a
// nil error is a normal read-timeout, not an error.
func (p *Port) Pump() (int, error) {
	buf := make([]byte, PacketSize)
	n, err := p.port.Read(buf)
	now := uint32(time.Now().UnixMicro())
	if err != nil {
		p.parser.Overrun()
		return 0, fmt.Errorf("serialtm: read: %w", err)
	}
	for i := 0; i < n; i++ {
		p.parser.Feed(buf[i], now)
	}
	p.parser.CheckTimeout(now)
	return n, nil
}
