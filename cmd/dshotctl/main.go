// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command dshotctl drives one ESC channel from a terminal: +/- nudge the
// throttle, 0 stops the motor, b sends a beep command, t prints the
// latest telemetry, s prints driver status, h lists the commands.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flightcore/dshot/bcm283x"
	"github.com/flightcore/dshot/config"
	"github.com/flightcore/dshot/dshot"
	"github.com/flightcore/dshot/esctelemetry"
	"github.com/flightcore/dshot/frame"
	"github.com/flightcore/dshot/hal"
	"github.com/flightcore/dshot/hal/gpiocdev"
	"github.com/flightcore/dshot/monitor"
	host "github.com/flightcore/dshot"
)

const throttleStep = 50

func main() {
	configPath := flag.String("config", "/etc/dshotctl/config.yaml", "path to config file")
	demo := flag.Bool("demo", false, "drive an in-memory loopback instead of real hardware")
	listenAddr := flag.String("listen", "", "override the monitor server's listen address")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[dshotctl] starting")

	cfg := config.Load(*configPath)
	if *demo {
		cfg.DShot.Backend = "loopback"
	}
	if *listenAddr != "" {
		cfg.Monitor.Listen = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[dshotctl] received %v, shutting down", sig)
		cancel()
	}()

	drv, lb, err := buildDriver(cfg)
	if err != nil {
		log.Fatalf("[dshotctl] %v", err)
	}
	_ = lb

	agg := esctelemetry.NewAggregator()
	srv := monitor.New(cfg.Monitor.Listen, agg)
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Printf("[dshotctl] monitor server: %v", err)
		}
	}()

	go pollLoop(ctx, drv, agg)

	fmt.Println("dshotctl ready. Press 'h' for help.")
	runREPL(ctx, drv)
}

// buildDriver constructs a dshot.Driver from cfg, selecting the
// loopback, bcm283x or gpiocdev backend. The *hal.Loopback return is
// non-nil only for the loopback backend. main does not queue replies on
// it, so in -demo mode every bidirectional frame is retired as a decode
// error.
func buildDriver(cfg *config.Config) (*dshot.Driver, *hal.Loopback, error) {
	dc := cfg.DShot
	switch dc.Backend {
	case "loopback", "":
		lb := hal.NewLoopback()
		d, err := dshot.New(dshot.Config{
			SpeedKbps: dc.SpeedKbps, TickHz: dc.TickHz, Bidirectional: dc.Bidirectional,
			PolePairs: dc.PolePairs, ReplyDelayTicks: dc.ReplyDelayTicks,
			ReplyWindowTicks: dc.ReplyWindowTicks, CaptureSize: dc.CaptureSize,
		}, lb.Hardware())
		return d, lb, err

	case "bcm283x":
		if _, err := host.Init(); err != nil {
			return nil, nil, fmt.Errorf("host init: %w", err)
		}
		dp, err := frame.NewDutyParams(dc.SpeedKbps, dc.TickHz)
		if err != nil {
			return nil, nil, err
		}
		hw, tickHz, err := bcm283x.Open(dc.Pin, dc.TickHz, dp.BitPeriod, dc.CaptureSize)
		if err != nil {
			return nil, nil, err
		}
		d, err := dshot.New(dshot.Config{
			SpeedKbps: dc.SpeedKbps, TickHz: tickHz, Bidirectional: dc.Bidirectional,
			PolePairs: dc.PolePairs, ReplyDelayTicks: dc.ReplyDelayTicks,
			ReplyWindowTicks: dc.ReplyWindowTicks, CaptureSize: dc.CaptureSize,
		}, hw)
		return d, nil, err

	case "gpiocdev":
		if _, err := host.Init(); err != nil {
			return nil, nil, fmt.Errorf("host init: %w", err)
		}
		backend, err := gpiocdev.Open(dc.PinName, dc.CaptureSize)
		if err != nil {
			return nil, nil, err
		}
		hw := hal.Hardware{Ticker: backend.Ticker(), Dir: backend.Dir(), Capture: backend.Capture()}
		d, err := dshot.New(dshot.Config{
			SpeedKbps: dc.SpeedKbps, TickHz: dc.TickHz, Bidirectional: dc.Bidirectional,
			PolePairs: dc.PolePairs, ReplyDelayTicks: dc.ReplyDelayTicks,
			ReplyWindowTicks: dc.ReplyWindowTicks, CaptureSize: dc.CaptureSize,
		}, hw)
		return d, nil, err

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", dc.Backend)
	}
}

// pollLoop drives dshot.Poll and republishes telemetry to agg whenever a
// new reply has been decoded.
func pollLoop(ctx context.Context, drv *dshot.Driver, agg *esctelemetry.Aggregator) {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	var tickCounter uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tickCounter++
			drv.Poll(tickCounter)
			if drv.ConsumeTelemetryAvailable() {
				agg.Update(esctelemetry.FromDShot(drv.LatestTelemetry()))
			}
		}
	}
}

func runREPL(ctx context.Context, drv *dshot.Driver) {
	throttle := 0
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case '+':
			throttle += throttleStep
			send(drv, throttle)
		case '-':
			throttle -= throttleStep
			send(drv, throttle)
		case '0':
			throttle = 0
			if err := drv.SendCommand(frame.CommandMotorStop); err != nil {
				log.Printf("send: %v", err)
			}
		case 'b':
			if err := drv.SendCommand(frame.CommandBeep1); err != nil {
				log.Printf("send: %v", err)
			}
		case 't':
			printTelemetry(drv)
		case 's':
			printStatus(drv)
		case 'h':
			printHelp()
		default:
			fmt.Println("unrecognized command, press 'h' for help")
		}
	}
}

func send(drv *dshot.Driver, throttle int) {
	if err := drv.SendThrottle(frame.ThrottleMin + throttle); err != nil {
		log.Printf("send: %v", err)
	}
}

func printTelemetry(drv *dshot.Driver) {
	tel := drv.LatestTelemetry()
	if !tel.Valid {
		fmt.Println("no telemetry decoded yet")
		return
	}
	fmt.Printf("rpm_electrical=%d rpm_mechanical=%d raw_period=%d\n",
		tel.RPMElectrical, tel.RPMMechanical, tel.RawPeriod)
}

func printStatus(drv *dshot.Driver) {
	tel := drv.LatestTelemetry()
	fmt.Printf("state=%v frames_sent=%d successes=%d errors=%d\n",
		drv.State(), tel.FramesSent, tel.Successes, tel.Errors)
}

func printHelp() {
	fmt.Println(`commands:
  +   raise throttle
  -   lower throttle
  0   motor stop
  b   send beep command
  t   print latest telemetry
  s   print driver status
  h   this help`)
}
