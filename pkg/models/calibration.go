/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import "time"

// PatternType selects the spatial layout of a calibration run. The pattern
// determines point count and placement only; scoring is pattern-agnostic.
type PatternType string

const (
	PatternSinglePoint PatternType = "single_point"
	PatternMultiPoint  PatternType = "multi_point"
	PatternGrid        PatternType = "grid"
	PatternCustom      PatternType = "custom"
)

// SessionState is the calibration session lifecycle state.
type SessionState string

const (
	SessionInactive  SessionState = "inactive"
	SessionActive    SessionState = "active"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// CalibrationPoint is one spatial sample location in a calibration pattern.
// Coordinates are normalized to [0,1] in both axes.
type CalibrationPoint struct {
	Index      int        `json:"index"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Completed  bool       `json:"completed"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// CalibrationSession is the persisted state of one calibration workflow.
// It is mutated only by the session controller's state machine and written
// to the store after every transition, so a crash between transitions always
// resumes from the last committed state.
type CalibrationSession struct {
	SessionID          string                `json:"session_id"`
	DeviceID           string                `json:"device_id"`
	Pattern            PatternType           `json:"pattern"`
	Points             []CalibrationPoint    `json:"points"`
	State              SessionState          `json:"state"`
	Samples            []QualityMetricSample `json:"samples,omitempty"`
	ValidationMessages []string              `json:"validation_messages,omitempty"`
	Stale              bool                  `json:"stale,omitempty"`
	StartedAt          time.Time             `json:"started_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// CompletedPoints counts points whose capture has finished.
func (s *CalibrationSession) CompletedPoints() int {
	n := 0

	for i := range s.Points {
		if s.Points[i].Completed {
			n++
		}
	}

	return n
}

// AllPointsCompleted reports whether every point in the pattern was captured.
func (s *CalibrationSession) AllPointsCompleted() bool {
	return len(s.Points) > 0 && s.CompletedPoints() == len(s.Points)
}
