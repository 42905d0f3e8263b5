// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "time"

// StandardGravity in m/s².
const StandardGravity = 9.80665

// accelLSBPerG maps the MPU9250 ACCEL_FS_SEL value to counts per g.
// 0=±2g, 1=±4g, 2=±8g, 3=±16g
var accelLSBPerG = [4]float64{16384, 8192, 4096, 2048}

// IMURaw represents a single raw accelerometer sample in device counts.
type IMURaw struct {
	Source string `json:"source"`

	Ax int16 `json:"ax"`
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`
}

// AccelSample is one acceleration reading in m/s², gravity included.
type AccelSample struct {
	Source string    `json:"source"`
	Time   time.Time `json:"time"`

	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AccelSource is anything that can provide acceleration samples over time:
// a hardware IMU, a serial-attached logger, a replayed file, a mock.
type AccelSource interface {
	Next() (AccelSample, error)
}

// CountsToMS2 converts a raw accelerometer reading to m/s² for the given
// full-scale range selector. Out of range selectors fall back to ±2g.
func CountsToMS2(raw int16, rangeSel byte) float64 {
	lsb := accelLSBPerG[0]
	if int(rangeSel) < len(accelLSBPerG) {
		lsb = accelLSBPerG[rangeSel]
	}
	return float64(raw) / lsb * StandardGravity
}

// ToAccel converts r to m/s² taken at t.
func (r IMURaw) ToAccel(rangeSel byte, t time.Time) AccelSample {
	return AccelSample{
		Source: r.Source,
		Time:   t,
		X:      CountsToMS2(r.Ax, rangeSel),
		Y:      CountsToMS2(r.Ay, rangeSel),
		Z:      CountsToMS2(r.Az, rangeSel),
	}
}
