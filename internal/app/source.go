// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/sensors"
)

// OpenSource builds the sample source selected in cfg. It returns the poll
// interval to read it at (0 for self-paced streams) and a close function.
func OpenSource(cfg *config.Config, logger *slog.Logger) (imu.AccelSource, time.Duration, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Source {
	case config.SourceMPU9250:
		src, err := sensors.NewMPU9250Source("imu", cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.IMUAccelRange, logger)
		if err != nil {
			return nil, 0, nil, err
		}
		return src, cfg.SampleInterval, noop, nil

	case config.SourceSerial:
		src, err := sensors.NewSerialSource(cfg.SerialPort, cfg.SerialBaudRate, logger)
		if err != nil {
			return nil, 0, nil, err
		}
		return src, 0, src.Close, nil

	case config.SourceMock:
		logger.Info("producer: using mock walking source", "cadence_hz", cfg.MockCadenceHz, "amplitude", cfg.MockAmplitude)
		return sensors.NewMockWalkSource(cfg.MockCadenceHz, cfg.MockAmplitude, nil), cfg.SampleInterval, noop, nil
	}
	return nil, 0, nil, fmt.Errorf("%w: unknown SOURCE %q", config.ErrInvalid, cfg.Source)
}
