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

// QualityBand is the discrete synchronization quality label derived from a
// continuous offset estimate.
type QualityBand string

const (
	BandExcellent      QualityBand = "excellent"
	BandGood           QualityBand = "good"
	BandFair           QualityBand = "fair"
	BandPoor           QualityBand = "poor"
	BandUnsynchronized QualityBand = "unsynchronized"
)

// ClockOffsetEstimate is the synchronizer's view of one device clock.
// Offset is device clock minus coordinator clock, signed. The estimate is
// owned exclusively by the clock synchronizer; everyone else gets copies.
type ClockOffsetEstimate struct {
	DeviceID    string        `json:"device_id"`
	Offset      time.Duration `json:"offset"`
	Jitter      time.Duration `json:"jitter"`
	Samples     int           `json:"samples"`
	Valid       bool          `json:"valid"`
	Drifting    bool          `json:"drifting"`
	Band        QualityBand   `json:"band"`
	LastUpdated time.Time     `json:"last_updated"`
}
