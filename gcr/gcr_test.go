// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gcr

import "testing"

// testBitPeriod is T_r for DShot600 at f_tck=168MHz: 750kbit/s reply rate.
var testBitPeriod = ReplyBitPeriod(600, 168_000_000)

func TestRoundTrip(t *testing.T) {
	// Every value whose period-nibble CRC is self-consistent should survive
	// EncodeLevels -> LevelsToEdges -> EdgesToBits -> BitsToValue unchanged.
	for period := uint16(0); period < 4096; period += 37 {
		crc := (period ^ (period >> 4) ^ (period >> 8)) & 0xF
		value := period<<4 | crc

		levels := EncodeLevels(value)
		idle := levels[0]
		edges := LevelsToEdges(levels, testBitPeriod)

		bits := EdgesToBits(edges, idle, testBitPeriod)
		got, err := BitsToValue(bits)
		if err != nil {
			t.Fatalf("period=%d: BitsToValue: %v", period, err)
		}
		if got != value {
			t.Fatalf("period=%d: round trip = %04x, want %04x", period, got, value)
		}
	}
}

func TestWorkedExamplePeriod196(t *testing.T) {
	// period = 0x0C4 (196us); CRC = XOR of nibbles 0x0,0xC,0x4 = 0x8.
	period := uint16(0x0C4)
	crc := (period ^ (period >> 4) ^ (period >> 8)) & 0xF
	if crc != 0x8 {
		t.Fatalf("crc = %x, want 8", crc)
	}
	value := period<<4 | crc
	if value != 0x0C48 {
		t.Fatalf("value = %04x, want 0c48", value)
	}

	got, err := Verify(value, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != period {
		t.Fatalf("Verify period = %x, want %x", got, period)
	}

	e, m := RPM(period, 14)
	if e != 306122 {
		t.Errorf("rpm_electrical = %d, want 306122", e)
	}
	if m != 43731 {
		t.Errorf("rpm_mechanical = %d, want 43731", m)
	}
}

func TestZeroPeriodIsNotAnError(t *testing.T) {
	e, m := RPM(0, 14)
	if e != 0 || m != 0 {
		t.Fatalf("RPM(0,14) = (%d,%d), want (0,0)", e, m)
	}
}

func TestVerifyCRCMismatch(t *testing.T) {
	period := uint16(0x0C4)
	value := period<<4 | 0x0 // wrong CRC
	if _, err := Verify(value, Options{}); err != ErrCRCMismatch {
		t.Fatalf("Verify = %v, want ErrCRCMismatch", err)
	}
}

func TestBitsToValueUnderrun(t *testing.T) {
	if _, err := BitsToValue(make([]byte, ReplyBits-1)); err != ErrUnderrun {
		t.Fatalf("BitsToValue(short) = %v, want ErrUnderrun", err)
	}
}

func TestInvalidSymbol(t *testing.T) {
	bits := make([]byte, ReplyBits)
	// All zero bits form symbol 0b00000 = index 0, which the table maps to
	// 0xFF (no valid nibble).
	if _, err := BitsToValue(bits); err != ErrInvalidSymbol {
		t.Fatalf("BitsToValue(zeros) = %v, want ErrInvalidSymbol", err)
	}
}

func TestCounterWrapMidReply(t *testing.T) {
	// t0 is near the top of a 16-bit counter; t1 is the wrapped value 1119
	// ticks later. wrapDelta must recover the true elapsed distance rather
	// than the (negative, as unsigned huge) naive t1-t0.
	const t0 = uint32(0xFFF0)
	const elapsed = uint32(1119)
	// wrapDelta defines elapsed = (0x10000-t0) + t1 + 1, so solve for t1.
	t1 := (t0 + elapsed - 1 - 0x10000) % 0x10000
	if got := wrapDelta(t0, t1); got != elapsed {
		t.Fatalf("wrapDelta(%x,%x) = %d, want %d", t0, t1, got, elapsed)
	}
}
