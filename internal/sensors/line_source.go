// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/step_computer/internal/imu"
)

// LineSource parses text lines of the form "x,y,z" (m/s²) from a reader.
// Whitespace or semicolons may separate the fields as well. Lines that do
// not parse are skipped.
type LineSource struct {
	name    string
	scanner *bufio.Scanner
	closer  io.Closer
	logger  *slog.Logger
	now     func() time.Time
}

// NewLineSource returns a LineSource reading from r.
func NewLineSource(r io.Reader, name string, logger *slog.Logger) *LineSource {
	return &LineSource{
		name:    name,
		scanner: bufio.NewScanner(r),
		logger:  logger,
		now:     time.Now,
	}
}

// NewSerialSource opens a serial port streaming "x,y,z" lines, typically a
// microcontroller with an accelerometer attached.
func NewSerialSource(portName string, baudRate uint, logger *slog.Logger) (*LineSource, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serial source: open %s: %w", portName, err)
	}
	logger.Info("sensors: serial port opened", "port", portName, "baud", baudRate)

	src := NewLineSource(port, "serial", logger)
	src.closer = port
	return src, nil
}

// Next blocks until a well-formed line arrives. It returns io.EOF once the
// underlying reader is exhausted.
func (s *LineSource) Next() (imu.AccelSample, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		x, y, z, err := parseTriple(line)
		if err != nil {
			s.logger.Debug("sensors: skipping malformed line", "source", s.name, "line", line, "err", err)
			continue
		}
		return imu.AccelSample{Source: s.name, Time: s.now(), X: x, Y: y, Z: z}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return imu.AccelSample{}, fmt.Errorf("%s source read: %w", s.name, err)
	}
	return imu.AccelSample{}, io.EOF
}

// Close releases the underlying port, if any.
func (s *LineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func parseTriple(line string) (x, y, z float64, err error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("want 3 fields, got %d", len(fields))
	}

	var v [3]float64
	for i, f := range fields {
		v[i], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("field %d: %w", i, err)
		}
	}
	return v[0], v[1], v[2], nil
}
