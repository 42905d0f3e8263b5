// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/step_computer/internal/imu"
)

// Column names understood by the replay source. Logs without a header are
// read positionally in this order.
var replayColumns = []string{"timestamp_ns", "accel_x", "accel_y", "accel_z"}

// CSVReplaySource replays an IMU log with sample times taken from the file.
type CSVReplaySource struct {
	r    *csv.Reader
	cols [4]int // indexes of replayColumns in each record
	line int // records read, header included

	pending []string // first data record when the log has no header
}

// NewCSVReplaySource reads the optional header of r and prepares a replay.
func NewCSVReplaySource(r io.Reader) (*CSVReplaySource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	s := &CSVReplaySource{r: cr, cols: [4]int{0, 1, 2, 3}}

	first, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		return nil, fmt.Errorf("replay: read header: %w", err)
	}
	s.line = 1

	if _, err := strconv.ParseInt(strings.TrimSpace(first[0]), 10, 64); err == nil {
		s.pending = first
		return s, nil
	}

	index := make(map[string]int, len(first))
	for i, name := range first {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for i, name := range replayColumns {
		col, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("replay: header is missing column %q", name)
		}
		s.cols[i] = col
	}
	return s, nil
}

// Next returns the next logged sample, or io.EOF at the end of the log.
func (s *CSVReplaySource) Next() (imu.AccelSample, error) {
	rec := s.pending
	s.pending = nil
	if rec == nil {
		var err error
		rec, err = s.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return imu.AccelSample{}, io.EOF
			}
			return imu.AccelSample{}, fmt.Errorf("replay: record %d: %w", s.line+1, err)
		}
	}
	s.line++

	get := func(i int) (string, error) {
		col := s.cols[i]
		if col >= len(rec) {
			return "", fmt.Errorf("replay: record %d: missing %s", s.line, replayColumns[i])
		}
		return strings.TrimSpace(rec[col]), nil
	}

	field, err := get(0)
	if err != nil {
		return imu.AccelSample{}, err
	}
	ns, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return imu.AccelSample{}, fmt.Errorf("replay: record %d: timestamp_ns: %w", s.line, err)
	}

	var v [3]float64
	for i := range v {
		field, err := get(i + 1)
		if err != nil {
			return imu.AccelSample{}, err
		}
		if v[i], err = strconv.ParseFloat(field, 64); err != nil {
			return imu.AccelSample{}, fmt.Errorf("replay: record %d: %s: %w", s.line, replayColumns[i+1], err)
		}
	}

	return imu.AccelSample{
		Source: "replay",
		Time:   time.Unix(0, ns).UTC(),
		X:      v[0],
		Y:      v[1],
		Z:      v[2],
	}, nil
}
