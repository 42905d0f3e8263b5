// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/relabs-tech/step_computer/internal/imu"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

var accelRangeG = []int{2, 4, 8, 16}

type mpu9250Source struct {
	name       string // for logging
	imu        *mpu9250.MPU9250
	accelRange byte
}

// NewMPU9250Source initializes an MPU9250 over SPI and returns it as an
// acceleration source in m/s².
func NewMPU9250Source(name, spiDev, csPin string, accelRange byte, logger *slog.Logger) (imu.AccelSource, error) {
	if int(accelRange) >= len(accelRangeG) {
		return nil, fmt.Errorf("%s IMU: accel range %d out of range 0-3", name, accelRange)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: periph host init: %w", name, err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", name, csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", name, spiDev, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", name, err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", name, err)
	}

	if err := dev.SetAccelRange(accelRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set accel range: %w", name, err)
	}
	logger.Info("sensors: accelerometer range set", "imu", name, "range", accelRange, "g", accelRangeG[accelRange])

	// Calibration failure leaves the offsets at their defaults; the step
	// detector works on magnitudes and tolerates a small bias.
	if err := dev.Calibrate(); err != nil {
		logger.Warn("sensors: calibration failed", "imu", name, "err", err)
	} else {
		logger.Info("sensors: calibration complete", "imu", name)
	}

	return &mpu9250Source{name: name, imu: dev, accelRange: accelRange}, nil
}

// Next reads the accelerometer and converts the counts to m/s².
func (s *mpu9250Source) Next() (imu.AccelSample, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.AccelSample{}, fmt.Errorf("%s IMU accel X: %w", s.name, err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.AccelSample{}, fmt.Errorf("%s IMU accel Y: %w", s.name, err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.AccelSample{}, fmt.Errorf("%s IMU accel Z: %w", s.name, err)
	}

	raw := imu.IMURaw{Source: s.name, Ax: ax, Ay: ay, Az: az}
	return raw.ToAccel(s.accelRange, time.Now()), nil
}
