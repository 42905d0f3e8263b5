// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package step

import (
	"sync"
	"time"
)

// Summary is a point-in-time view of a tracking session.
type Summary struct {
	SessionID    string    `json:"session_id"`
	Steps        int       `json:"steps"`
	StartedAt    time.Time `json:"started_at"`
	FirstStepAt  time.Time `json:"first_step_at,omitzero"`
	LastStepAt   time.Time `json:"last_step_at,omitzero"`
	CadenceSPM   float64   `json:"cadence_spm"` // steps per minute
	DistanceM    float64   `json:"distance_m"`
	CaloriesKcal float64   `json:"calories_kcal"`
}

// Session tallies accepted steps for one tracking session and derives
// distance and calorie estimates from fixed per-step factors.
// It is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	stride      float64 // meters per step
	kcalPerStep float64
	clock       Clock

	id        string
	startedAt time.Time
	steps     int
	first     time.Time
	last      time.Time
}

// NewSession starts a session named id. A nil clock uses WallClock.
func NewSession(id string, stride, kcalPerStep float64, clock Clock) *Session {
	if clock == nil {
		clock = WallClock
	}
	return &Session{
		stride:      stride,
		kcalPerStep: kcalPerStep,
		clock:       clock,
		id:          id,
		startedAt:   clock.Now(),
	}
}

// Record counts one step taken at t and returns the new total.
func (s *Session) Record(t time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(t)
	return s.steps
}

func (s *Session) record(t time.Time) {
	if s.steps == 0 {
		s.first = t
	}
	if t.After(s.last) {
		s.last = t
	}
	s.steps++
}

// RecordIn counts one step taken at t only if the session is still named
// id. It returns the new total and whether the step was counted.
func (s *Session) RecordIn(id string, t time.Time) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != id {
		return s.steps, false
	}
	s.record(t)
	return s.steps, true
}

// ID returns the current session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Reset discards the tally and starts a new session named id.
func (s *Session) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = id
	s.startedAt = s.clock.Now()
	s.steps = 0
	s.first = time.Time{}
	s.last = time.Time{}
}

// Snapshot returns the current tally with derived cadence and estimates.
func (s *Session) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		SessionID:    s.id,
		Steps:        s.steps,
		StartedAt:    s.startedAt,
		FirstStepAt:  s.first,
		LastStepAt:   s.last,
		DistanceM:    float64(s.steps) * s.stride,
		CaloriesKcal: float64(s.steps) * s.kcalPerStep,
	}
	// Cadence counts the intervals between steps, so it needs two of them.
	if span := s.last.Sub(s.first); s.steps >= 2 && span > 0 {
		sum.CadenceSPM = float64(s.steps-1) / span.Minutes()
	}
	return sum
}
