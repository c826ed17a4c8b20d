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

package calibration

import "errors"

var (
	// ErrSessionActive is returned when starting while a session is
	// already in progress.
	ErrSessionActive = errors.New("a calibration session is already active")

	// ErrNoActiveSession is returned for operations without a session.
	ErrNoActiveSession = errors.New("no active calibration session")

	// ErrNoHealthyDevice is returned when starting with no connected,
	// healthy device.
	ErrNoHealthyDevice = errors.New("no healthy device available for calibration")

	// ErrUnknownPattern rejects an unrecognized pattern type.
	ErrUnknownPattern = errors.New("unknown calibration pattern")

	// ErrSessionStale flags a session idle past the staleness window;
	// the caller must resume with explicit confirmation.
	ErrSessionStale = errors.New("calibration session is stale, resume requires confirmation")

	// ErrSessionNotActive is returned for captures against a paused or
	// finished session.
	ErrSessionNotActive = errors.New("calibration session is not active")

	// ErrSessionNotPaused is returned when resuming a session that is
	// not paused.
	ErrSessionNotPaused = errors.New("calibration session is not paused")

	// ErrPointIndex rejects a capture outside the pattern's point list.
	ErrPointIndex = errors.New("calibration point index out of range")

	// ErrPointCompleted rejects a second capture of the same point.
	ErrPointCompleted = errors.New("calibration point already captured")

	// ErrPersistFailed is fatal: the session transition could not be
	// written even after the retry, so its durability is not guaranteed.
	ErrPersistFailed = errors.New("failed to persist calibration session")

	errCustomPointsRequired = errors.New("custom pattern requires at least one point")
	errPointOutOfRange      = errors.New("calibration point outside [0,1] range")
)
