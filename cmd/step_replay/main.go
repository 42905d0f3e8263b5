// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/step_replay/main.go
//
// Offline detector run over a recorded IMU log, for tuning the threshold
// and refractory interval against real walks.
//
// Input: CSV with timestamp_ns, accel_x, accel_y, accel_z (m/s²). Extra
// columns are ignored; the header is optional.
//
// Run:
//
//	go run ./cmd/step_replay -file walk.csv -threshold 14
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/relabs-tech/step_computer/internal/app"
	"github.com/relabs-tech/step_computer/internal/logging"
	"github.com/relabs-tech/step_computer/internal/sensors"
	"github.com/relabs-tech/step_computer/internal/step"
)

func main() {
	file := flag.String("file", "", "IMU log to replay (CSV)")
	threshold := flag.Float64("threshold", step.DefaultThreshold, "peak magnitude threshold (m/s²)")
	refractory := flag.Duration("refractory", step.DefaultRefractoryInterval, "minimum time between steps")
	history := flag.Int("history", step.DefaultMaxHistory, "magnitudes kept by the detector")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.New(*level, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	if *file == "" {
		logger.Error("-file is required")
		os.Exit(2)
	}

	f, err := os.Open(*file)
	if err != nil {
		logger.Error("failed to open log", "file", *file, "err", err)
		os.Exit(1)
	}
	defer f.Close()

	src, err := sensors.NewCSVReplaySource(f)
	if err != nil {
		logger.Error("failed to read log", "err", err)
		os.Exit(1)
	}

	steps, err := app.Replay(src,
		step.WithThreshold(*threshold),
		step.WithRefractoryInterval(*refractory),
		step.WithMaxHistory(*history),
	)
	if err != nil {
		logger.Error("replay failed", "err", err, "steps_so_far", len(steps))
		os.Exit(1)
	}

	for i, t := range steps {
		fmt.Printf("step %4d  t=%s\n", i+1, t.Format(time.RFC3339Nano))
	}
	fmt.Printf("total steps: %d\n", len(steps))
	if len(steps) >= 2 {
		span := steps[len(steps)-1].Sub(steps[0])
		fmt.Printf("mean cadence: %.1f steps/min over %s\n", float64(len(steps)-1)/span.Minutes(), span.Round(time.Millisecond))
	}
}
