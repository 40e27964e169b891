// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package frame

import "testing"

func TestBuildCRCNibbleXOR(t *testing.T) {
	// Every frame's four nibbles, XORed together, must be zero: the CRC
	// nibble is defined so that this always holds.
	for value := uint16(0); value <= ThrottleMax; value += 7 {
		for _, t0 := range []bool{false, true} {
			f := Build(value, t0)
			x := (f >> 12) ^ (f >> 8) ^ (f >> 4) ^ f
			if x&0xF != 0 {
				t.Fatalf("value=%d telem=%v frame=%04x nibble xor=%x", value, t0, f, x&0xF)
			}
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	for value := uint16(0); value <= ThrottleMax; value += 11 {
		for _, req := range []bool{false, true} {
			f := Build(value, req)
			gotValue, gotReq, ok := Decode(f)
			if !ok {
				t.Fatalf("Decode(%04x) reported CRC failure", f)
			}
			if gotValue != value || gotReq != req {
				t.Fatalf("Decode(Build(%d,%v)) = (%d,%v), want (%d,%v)", value, req, gotValue, gotReq, value, req)
			}
		}
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	f := Build(1046, true)
	if _, _, ok := Decode(f ^ 1); ok {
		t.Fatalf("Decode accepted a corrupted frame")
	}
}

func TestBuildWorkedExample(t *testing.T) {
	// DShot600 throttle 1046 with telemetry request, from the protocol
	// worked example: packet=0x82D, crc=0x7, frame=0x82D7.
	f := Build(1046, true)
	if f != 0x82D7 {
		t.Fatalf("Build(1046,true) = %04x, want 82d7", f)
	}
}

func TestMotorStopFrameIsZero(t *testing.T) {
	if f := Build(CommandMotorStop, false); f != 0 {
		t.Fatalf("Build(MOTOR_STOP,false) = %04x, want 0000", f)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in   int
		want uint16
	}{
		{0, 0},
		{2047, 2047},
		{2100, 2047},
		{-5, 0},
	}
	for _, c := range cases {
		if got := Clamp(c.in); got != c.want {
			t.Errorf("Clamp(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNewDutyParamsDShot600(t *testing.T) {
	// f_tck = 168MHz, DShot600 -> T_bit = 280 ticks (per the protocol's
	// worked example), duty0=105, duty1=210.
	p, err := NewDutyParams(600, 168_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if p.BitPeriod != 280 {
		t.Errorf("BitPeriod = %d, want 280", p.BitPeriod)
	}
	if p.DutyZero != 105 {
		t.Errorf("DutyZero = %d, want 105", p.DutyZero)
	}
	if p.DutyOne != 210 {
		t.Errorf("DutyOne = %d, want 210", p.DutyOne)
	}
}

func TestEncodeWorkedExample(t *testing.T) {
	p, err := NewDutyParams(600, 168_000_000)
	if err != nil {
		t.Fatal(err)
	}
	seq := Encode(1046, true, false, p)
	want := Sequence{210, 105, 105, 105, 105, 105, 210, 105, 210, 210, 105, 210, 105, 210, 210, 210, 0}
	if seq != want {
		t.Fatalf("Encode(1046,true,false) = %v, want %v", seq, want)
	}
}

func TestEncodeMotorStopAllZero(t *testing.T) {
	p, err := NewDutyParams(600, 168_000_000)
	if err != nil {
		t.Fatal(err)
	}
	seq := Encode(CommandMotorStop, false, false, p)
	for i := 0; i < DataBits; i++ {
		if seq[i] != uint16(p.DutyZero) {
			t.Fatalf("slot %d = %d, want duty-zero %d", i, seq[i], p.DutyZero)
		}
	}
	if seq[DataBits] != 0 {
		t.Fatalf("trailing slot = %d, want 0", seq[DataBits])
	}
}

func TestEncodeInvertedIdlesHigh(t *testing.T) {
	p, err := NewDutyParams(600, 168_000_000)
	if err != nil {
		t.Fatal(err)
	}
	seq := Encode(48, true, true, p)
	if seq[DataBits] != uint16(p.BitPeriod) {
		t.Fatalf("inverted trailing slot = %d, want full bit period %d", seq[DataBits], p.BitPeriod)
	}
	for i := 0; i < DataBits; i++ {
		if seq[i] > uint16(p.BitPeriod) {
			t.Fatalf("slot %d = %d exceeds bit period %d", i, seq[i], p.BitPeriod)
		}
	}
}
