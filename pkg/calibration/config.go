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

import (
	"fmt"
	"time"

	"github.com/recsync/recsync/pkg/models"
)

const (
	defaultQualityThreshold = 0.8
	defaultStalenessWindow  = 5 * time.Minute
)

var errThresholdOutOfRange = fmt.Errorf("quality_threshold must be in (0,1]")

// Config controls session acceptance and staleness.
type Config struct {
	// QualityThreshold is the aggregate score a session must exceed to
	// complete; at or below it the session fails.
	QualityThreshold float64 `json:"quality_threshold"`

	// StalenessWindow flags a session idle for longer than this; resuming
	// a stale session requires explicit confirmation.
	StalenessWindow models.Duration `json:"staleness_window"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.QualityThreshold == 0 {
		c.QualityThreshold = defaultQualityThreshold
	}

	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return errThresholdOutOfRange
	}

	if time.Duration(c.StalenessWindow) == 0 {
		c.StalenessWindow = models.Duration(defaultStalenessWindow)
	}

	return nil
}
