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

package timesync

import (
	"fmt"
	"time"

	"github.com/recsync/recsync/pkg/models"
)

const (
	defaultProbeInterval   = 10 * time.Second
	defaultProbeTimeout    = 5 * time.Second
	defaultJitterThreshold = 15 * time.Millisecond
	defaultMaxTimeouts     = 5

	// Default banding per the 10/50/100ms table. The thresholds are
	// configuration, not constants of the algorithm.
	defaultExcellentMax = 10 * time.Millisecond
	defaultGoodMax      = 50 * time.Millisecond
	defaultFairMax      = 100 * time.Millisecond

	// defaultDriftSlope flags a device whose offset trends more than
	// 1ms per second of wall time across the sliding window.
	defaultDriftSlope = 1e-3
)

var errBandOrdering = fmt.Errorf("sync bands must satisfy excellent < good < fair")

// Bands maps a continuous offset magnitude to a discrete quality label.
type Bands struct {
	ExcellentMax models.Duration `json:"excellent_max"`
	GoodMax      models.Duration `json:"good_max"`
	FairMax      models.Duration `json:"fair_max"`
}

// Config controls the synchronization loop and estimate validity.
type Config struct {
	ProbeInterval          models.Duration `json:"probe_interval"`
	ProbeTimeout           models.Duration `json:"probe_timeout"`
	JitterThreshold        models.Duration `json:"jitter_threshold"`
	MaxConsecutiveTimeouts int             `json:"max_consecutive_timeouts"`
	DriftSlope             float64         `json:"drift_slope"`
	Bands                  Bands           `json:"bands"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if time.Duration(c.ProbeInterval) == 0 {
		c.ProbeInterval = models.Duration(defaultProbeInterval)
	}

	if time.Duration(c.ProbeTimeout) == 0 {
		c.ProbeTimeout = models.Duration(defaultProbeTimeout)
	}

	if time.Duration(c.JitterThreshold) == 0 {
		c.JitterThreshold = models.Duration(defaultJitterThreshold)
	}

	if c.MaxConsecutiveTimeouts == 0 {
		c.MaxConsecutiveTimeouts = defaultMaxTimeouts
	}

	if c.DriftSlope == 0 {
		c.DriftSlope = defaultDriftSlope
	}

	if time.Duration(c.Bands.ExcellentMax) == 0 {
		c.Bands.ExcellentMax = models.Duration(defaultExcellentMax)
	}

	if time.Duration(c.Bands.GoodMax) == 0 {
		c.Bands.GoodMax = models.Duration(defaultGoodMax)
	}

	if time.Duration(c.Bands.FairMax) == 0 {
		c.Bands.FairMax = models.Duration(defaultFairMax)
	}

	if !(c.Bands.ExcellentMax < c.Bands.GoodMax && c.Bands.GoodMax < c.Bands.FairMax) {
		return errBandOrdering
	}

	return nil
}
