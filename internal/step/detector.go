// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package step turns a stream of 3-axis acceleration samples into discrete,
// debounced step events.
//
// The Detector keeps a short window of acceleration magnitudes and reports a
// step when the middle of the three most recent magnitudes is a strict local
// maximum above a threshold. Detection therefore lags the physical peak by
// one sample. Accepted steps are separated by at least a refractory interval
// so that the ripples of a single footfall are counted once.
//
// A Detector is not safe for concurrent use. Callers feeding it from several
// goroutines must serialize calls themselves.
package step

import (
	"errors"
	"math"
	"time"
)

// Reference tuning for a wrist or hip sensor reporting m/s².
const (
	DefaultThreshold          = 15.0
	DefaultRefractoryInterval = 300 * time.Millisecond
	DefaultMaxHistory         = 5

	// peakWindow is the number of magnitudes needed to evaluate a peak.
	peakWindow = 3
)

var (
	ErrNilHandler         = errors.New("step: onStep handler is required")
	ErrHistoryTooShort    = errors.New("step: max history must be at least 3")
	ErrNegativeRefractory = errors.New("step: refractory interval must not be negative")
)

// Sample is one accelerometer reading in sensor units.
type Sample struct {
	X, Y, Z float64
}

// Magnitude returns the Euclidean norm of the sample. Gravity is not removed.
func (s Sample) Magnitude() float64 {
	return math.Hypot(math.Hypot(s.X, s.Y), s.Z)
}

// Option configures a Detector at construction.
type Option func(*Detector)

// WithThreshold sets the magnitude a peak must exceed to count as a step.
func WithThreshold(threshold float64) Option {
	return func(d *Detector) { d.threshold = threshold }
}

// WithRefractoryInterval sets the minimum time between accepted steps.
func WithRefractoryInterval(interval time.Duration) Option {
	return func(d *Detector) { d.refractory = interval }
}

// WithMaxHistory sets how many magnitudes the detector retains.
func WithMaxHistory(n int) Option {
	return func(d *Detector) { d.maxHistory = n }
}

// WithClock sets the timestamp source used for refractory timing.
func WithClock(c Clock) Option {
	return func(d *Detector) {
		if c != nil {
			d.clock = c
		}
	}
}

// Detector is an online peak detector over acceleration magnitudes.
type Detector struct {
	threshold  float64
	refractory time.Duration
	maxHistory int
	clock      Clock
	onStep     func()

	// history is a ring buffer; head is the index of the oldest entry.
	history []float64
	head    int
	size    int

	lastStep time.Time
	hasStep  bool
}

// NewDetector creates a Detector that calls onStep once per accepted step.
func NewDetector(onStep func(), opts ...Option) (*Detector, error) {
	if onStep == nil {
		return nil, ErrNilHandler
	}

	d := &Detector{
		threshold:  DefaultThreshold,
		refractory: DefaultRefractoryInterval,
		maxHistory: DefaultMaxHistory,
		clock:      WallClock,
		onStep:     onStep,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.maxHistory < peakWindow {
		return nil, ErrHistoryTooShort
	}
	if d.refractory < 0 {
		return nil, ErrNegativeRefractory
	}

	d.history = make([]float64, d.maxHistory)
	return d, nil
}

// Process consumes one sample and calls onStep if it confirms a step.
func (d *Detector) Process(x, y, z float64) {
	d.ProcessSample(Sample{X: x, Y: y, Z: z})
}

// ProcessSample consumes one sample and reports whether a step was accepted.
// When it returns true, onStep has already been called.
func (d *Detector) ProcessSample(s Sample) bool {
	m := s.Magnitude()
	// NaN fails every comparison, so non-finite input can never be or
	// confirm a peak.
	if math.IsInf(m, 0) {
		m = math.NaN()
	}
	d.push(m)

	if d.size < peakWindow {
		return false
	}

	before, previous, current := d.at(d.size-3), d.at(d.size-2), d.at(d.size-1)
	if !(previous > before && previous > current && previous > d.threshold) {
		return false
	}

	now := d.clock.Now()
	if d.hasStep && now.Sub(d.lastStep) <= d.refractory {
		return false
	}
	d.lastStep = now
	d.hasStep = true
	d.onStep()
	return true
}

// Reset clears the history and the last step time. Configuration is kept.
func (d *Detector) Reset() {
	d.head = 0
	d.size = 0
	d.lastStep = time.Time{}
	d.hasStep = false
}

// Threshold returns the minimum peak magnitude.
func (d *Detector) Threshold() float64 { return d.threshold }

// RefractoryInterval returns the minimum spacing between steps.
func (d *Detector) RefractoryInterval() time.Duration { return d.refractory }

// MaxHistory returns the capacity of the magnitude history.
func (d *Detector) MaxHistory() int { return d.maxHistory }

// HistoryLen returns the number of magnitudes currently buffered.
func (d *Detector) HistoryLen() int { return d.size }

// Armed reports whether enough samples are buffered to evaluate a peak.
func (d *Detector) Armed() bool { return d.size >= peakWindow }

// LastStep returns the time of the most recent accepted step, if any.
func (d *Detector) LastStep() (time.Time, bool) { return d.lastStep, d.hasStep }

func (d *Detector) push(m float64) {
	if d.size < d.maxHistory {
		d.history[(d.head+d.size)%d.maxHistory] = m
		d.size++
		return
	}
	d.history[d.head] = m
	d.head = (d.head + 1) % d.maxHistory
}

// at returns the i-th oldest buffered magnitude.
func (d *Detector) at(i int) float64 {
	return d.history[(d.head+i)%d.maxHistory]
}
