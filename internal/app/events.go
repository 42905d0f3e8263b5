// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import "time"

// StepEvent is published once per accepted step.
type StepEvent struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`  // step number within the session
	Time      time.Time `json:"time"` // sample time that confirmed the step
	Source    string    `json:"source"`
}

// Control commands accepted on the control topic.
const (
	CommandReset   = "reset"
	CommandSummary = "summary"
)

// ControlMessage is the payload of the control topic.
type ControlMessage struct {
	Command string `json:"command"`
}
