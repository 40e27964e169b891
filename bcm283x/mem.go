// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

// Package bcm283x drives a single DShot channel directly off the BCM283x
// SoC's PWM peripheral and free-running system timer, memory-mapped
// through /dev/mem. It registers itself with
// periph.io/x/conn/v3/driver/driverreg the same way the Linux GPIO v2
// chardev driver does, so it only activates on a Raspberry Pi.
package bcm283x

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

// Peripheral register block sizes, in 32-bit words.
const (
	pwmSize   = 0x28 / 4
	clkSize   = 0xa8 / 4
	gpioSize  = 0xc0 / 4
	sysTSize  = 0x1c / 4
	dmaSize   = 0x100 / 4
	pageBytes = 4096
)

// peripheralBase reads the SoC's peripheral bus base address out of the
// device tree, the way every BCM283x-family board (2835 through 2711)
// publishes it, instead of hardcoding one generation's address.
func peripheralBase() (uint64, error) {
	b, err := os.ReadFile("/proc/device-tree/soc/ranges")
	if err != nil {
		return 0, fmt.Errorf("bcm283x: reading soc ranges: %w", err)
	}
	// ranges is a list of (child-bus-addr uint32, parent-bus-addr uint32,
	// length uint32) on 32-bit-address boards, or (uint64, uint64, uint32)
	// on the Pi4/400 (2711). Try the 2711 layout first.
	if len(b) >= 16 {
		var childLo, parentHi uint64
		r := bytes.NewReader(b[8:16])
		_ = binary.Read(r, binary.BigEndian, &parentHi)
		_ = childLo
		if parentHi != 0 {
			return parentHi, nil
		}
	}
	if len(b) >= 8 {
		return uint64(binary.BigEndian.Uint32(b[4:8])), nil
	}
	return 0, errors.New("bcm283x: could not parse /proc/device-tree/soc/ranges")
}

// mmapRegisters maps size words starting at physical offset off from the
// peripheral base, via /dev/mem. Callers must hold CAP_SYS_RAWIO (root on
// a stock Raspberry Pi OS).
func mmapRegisters(off uint64, words int) ([]uint32, error) {
	base, err := peripheralBase()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("bcm283x: open /dev/mem: %w", err)
	}
	defer f.Close()

	phys := base + off
	aligned := phys &^ (pageBytes - 1)
	pageOff := int(phys - aligned)
	mapLen := pageOff + words*4
	if mapLen%pageBytes != 0 {
		mapLen += pageBytes - mapLen%pageBytes
	}
	data, err := syscall.Mmap(int(f.Fd()), int64(aligned), mapLen, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("bcm283x: mmap offset %#x: %w", off, err)
	}
	ptr := unsafe.Pointer(&data[0])
	full := unsafe.Slice((*uint32)(ptr), mapLen/4)
	return full[pageOff/4 : pageOff/4+words], nil
}
