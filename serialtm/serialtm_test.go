// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package serialtm

import "testing"

// workedExamplePacket is the package's worked example: temp 42C, voltage
// 14.80V, current 2.50A, consumption 127mAh, erpm_field 100 -> rpm =
// (100*100*2)/14 = 1428.
func workedExamplePacket() [PacketSize]byte {
	body := [PacketSize - 1]byte{0x2A, 0x05, 0xC8, 0x00, 0xFA, 0x00, 0x7F, 0x00, 0x64}
	var pkt [PacketSize]byte
	copy(pkt[:], body[:])
	pkt[9] = crc8(body[:])
	return pkt
}

func TestWorkedExamplePacket(t *testing.T) {
	pkt := workedExamplePacket()
	p := NewParser(14)
	for i, b := range pkt {
		p.Feed(b, uint32(i))
	}
	if !p.ConsumeAvailable() {
		t.Fatal("expected new-data flag set")
	}
	rec, ok := p.Latest()
	if !ok {
		t.Fatal("expected a valid record")
	}
	if rec.TemperatureC != 42 {
		t.Errorf("temp = %d, want 42", rec.TemperatureC)
	}
	if got := rec.Volts(); got != 14.80 {
		t.Errorf("volts = %v, want 14.80", got)
	}
	if got := rec.Amps(); got != 2.50 {
		t.Errorf("amps = %v, want 2.50", got)
	}
	if rec.ConsumptionMAh != 127 {
		t.Errorf("consumption = %d, want 127", rec.ConsumptionMAh)
	}
	if rec.RPMMechanical != 1428 {
		t.Errorf("rpm_mechanical = %d, want 1428", rec.RPMMechanical)
	}
	if c := p.Counters(); c.PacketsOK != 1 || c.CRCErrors != 0 {
		t.Errorf("counters = %+v", c)
	}
}

func TestCRCMismatchDiscardsPacket(t *testing.T) {
	pkt := workedExamplePacket()
	pkt[9] ^= 0xFF // corrupt the CRC byte
	p := NewParser(14)
	for i, b := range pkt {
		p.Feed(b, uint32(i))
	}
	if p.ConsumeAvailable() {
		t.Fatal("did not expect new-data flag on CRC mismatch")
	}
	if _, ok := p.Latest(); ok {
		t.Fatal("did not expect a valid record")
	}
	if c := p.Counters(); c.CRCErrors != 1 {
		t.Errorf("crc errors = %d, want 1", c.CRCErrors)
	}
}

func TestTimeoutResetsPartialPacket(t *testing.T) {
	p := NewParser(14)
	p.Feed(0x2A, 0)
	p.Feed(0x05, 1)
	p.CheckTimeout(1 + PacketTimeoutTicks + 1)
	// The partial packet must have been dropped: feeding the remaining
	// worked-example bytes from here should not magically complete it.
	pkt := workedExamplePacket()
	for i := 2; i < PacketSize; i++ {
		p.Feed(pkt[i], uint32(200+i))
	}
	if p.ConsumeAvailable() {
		t.Fatal("stale partial packet should not have completed")
	}
	if c := p.Counters(); c.Timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", c.Timeouts)
	}
}

func TestOverrunClearsBuffer(t *testing.T) {
	p := NewParser(14)
	p.Feed(0x2A, 0)
	p.Feed(0x05, 1)
	p.Overrun()
	if c := p.Counters(); c.Overruns != 1 {
		t.Errorf("overruns = %d, want 1", c.Overruns)
	}
	pkt := workedExamplePacket()
	for i, b := range pkt {
		p.Feed(b, uint32(300+i))
	}
	if !p.ConsumeAvailable() {
		t.Fatal("fresh packet after overrun should still decode")
	}
}

func TestZeroPolePairsYieldsZeroMechanicalRPM(t *testing.T) {
	pkt := workedExamplePacket()
	p := NewParser(0)
	for i, b := range pkt {
		p.Feed(b, uint32(i))
	}
	rec, _ := p.Latest()
	if rec.RPMMechanical != 0 {
		t.Errorf("rpm_mechanical = %d, want 0", rec.RPMMechanical)
	}
}
