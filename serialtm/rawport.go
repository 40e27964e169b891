// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package serialtm

import (
	"fmt"
	"time"

	goserial "github.com/daedaluz/goserial"
)

// RawPort is an alternate Port backend built directly on termios2 ioctls
// instead of go.bug.st/serial's cgo-free but heavier abstraction — useful
// on a bench rig where the telemetry UART is a raw USB-serial adapter
// whose driver go.bug.st/serial's enumeration does not always see.
type RawPort struct {
	port   *goserial.Port
	parser *Parser
}

// OpenRawPort opens portPath via termios2, configures 115200-8N1 and
// binds it to a new Parser for polePairs.
func OpenRawPort(portPath string, polePairs uint32) (*RawPort, error) {
	opts := goserial.NewOptions().SetReadTimeout(100 * time.Millisecond)
	p, err := goserial.Open(portPath, opts)
	if err != nil {
		return nil, fmt.Errorf("serialtm: raw open %s: %w", portPath, err)
	}
	attrs, err := p.GetAttr2()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("serialtm: get attrs: %w", err)
	}
	attrs.Cflag = goserial.CS8 | goserial.CREAD | goserial.CLOCAL
	attrs.Iflag, attrs.Oflag, attrs.Lflag = 0, 0, 0
	attrs.ISpeed, attrs.OSpeed = 115200, 115200
	if err := p.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		p.Close()
		return nil, fmt.Errorf("serialtm: set attrs: %w", err)
	}
	return &RawPort{port: p, parser: NewParser(polePairs)}, nil
}

// Close releases the underlying file descriptor.
func (p *RawPort) Close() error { return p.port.Close() }

// Parser returns the Parser this RawPort feeds.
func (p *RawPort) Parser() *Parser { return p.parser }

// Pump reads whatever is available and feeds it to the Parser.
func (p *RawPort) Pump() (int, error) {
	buf := make([]byte, PacketSize)
	n, err := p.port.Read(buf)
	now := uint32(time.Now().UnixMicro())
	if err != nil {
		p.parser.Overrun()
		return 0, fmt.Errorf("serialtm: raw read: %w", err)
	}
	for i := 0; i < n; i++ {
		p.parser.Feed(buf[i], now)
	}
	p.parser.CheckTimeout(now)
	return n, nil
}
