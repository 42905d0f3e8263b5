// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/step"
)

// Replay runs a detector over every sample of src, timing steps by the
// sample timestamps, and returns the time of each accepted step.
func Replay(src imu.AccelSource, opts ...step.Option) ([]time.Time, error) {
	clock := step.NewManualClock(time.Time{})

	var steps []time.Time
	d, err := step.NewDetector(func() {
		steps = append(steps, clock.Now())
	}, append(append([]step.Option{}, opts...), step.WithClock(clock))...)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	for {
		s, err := src.Next()
		if errors.Is(err, io.EOF) {
			return steps, nil
		}
		if err != nil {
			return steps, err
		}
		clock.Set(s.Time)
		d.Process(s.X, s.Y, s.Z)
	}
}
