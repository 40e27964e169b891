package gpioioctl_test

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	host "github.com/flightcore/dshot"
	"github.com/flightcore/dshot/gpioioctl"
)

// Example shows the chardev driver registering a DShot signal line under
// gpioreg, the same lookup hal/gpiocdev.Open performs.
func Example() {
	_, _ = host.Init()
	_, _ = driverreg.Init()

	chip := gpioioctl.Chips[0]
	defer chip.Close()
	fmt.Println(chip.String())

	signal := gpioreg.ByName("GPIO18")
	_ = signal.Out(gpio.High)
	time.Sleep(time.Millisecond)
	_ = signal.In(gpio.PullUp, gpio.NoEdge)
}
