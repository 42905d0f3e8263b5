// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/step"
)

// pulseFraction is the part of each gait cycle taken by the heel strike.
const pulseFraction = 0.2

type mockWalkSource struct {
	clock     step.Clock
	start     time.Time
	period    time.Duration
	amplitude float64
}

// NewMockWalkSource creates a synthetic walking signal: gravity on Z, a
// heel-strike pulse of the given amplitude (m/s²) once per step at cadence
// steps per second, and a small lateral sway on X. A nil clock uses the
// wall clock.
func NewMockWalkSource(cadence, amplitude float64, clock step.Clock) imu.AccelSource {
	if clock == nil {
		clock = step.WallClock
	}
	if cadence <= 0 {
		cadence = 2
	}
	return &mockWalkSource{
		clock:     clock,
		start:     clock.Now(),
		period:    time.Duration(float64(time.Second) / cadence),
		amplitude: amplitude,
	}
}

func (m *mockWalkSource) Next() (imu.AccelSample, error) {
	now := m.clock.Now()
	elapsed := now.Sub(m.start)

	phase := elapsed % m.period
	u := float64(phase) / (float64(m.period) * pulseFraction)

	return imu.AccelSample{
		Source: "mock",
		Time:   now,
		X:      0.5 * math.Sin(math.Pi*elapsed.Seconds()/m.period.Seconds()),
		Y:      0,
		Z:      imu.StandardGravity + m.amplitude*heelStrike(u),
	}, nil
}

// heelStrike is a skewed triangle over u in [0,1): a fast rise to 1 at 0.3
// followed by a slower decay. Zero outside the pulse.
func heelStrike(u float64) float64 {
	switch {
	case u < 0 || u >= 1:
		return 0
	case u < 0.3:
		return u / 0.3
	default:
		return (1 - u) / 0.7
	}
}
