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

// QualityMetricSample is one per-capture quality measurement. Every sub-score
// is clamped to [0,1] before it lands here; Overall is the weighted sum of
// the five sub-scores with weights that sum to 1.0.
type QualityMetricSample struct {
	PointIndex  int       `json:"point_index"`
	Sync        float64   `json:"sync"`
	Visual      float64   `json:"visual"`
	Thermal     float64   `json:"thermal"`
	Spatial     float64   `json:"spatial"`
	Reliability float64   `json:"reliability"`
	Overall     float64   `json:"overall"`
	CapturedAt  time.Time `json:"captured_at"`
}
