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

package quality

import (
	"fmt"
	"math"
)

const weightSumTolerance = 1e-9

// Weights are the per-deployment sub-score weights. They must sum to 1.0;
// anything else is rejected at startup rather than silently renormalized.
type Weights struct {
	Sync        float64 `json:"sync"`
	Visual      float64 `json:"visual"`
	Thermal     float64 `json:"thermal"`
	Spatial     float64 `json:"spatial"`
	Reliability float64 `json:"reliability"`
}

// DefaultWeights favors synchronization accuracy, since that is the one
// failure the downstream signal extraction cannot compensate for.
func DefaultWeights() Weights {
	return Weights{
		Sync:        0.30,
		Visual:      0.20,
		Thermal:     0.20,
		Spatial:     0.15,
		Reliability: 0.15,
	}
}

// Validate implements config.Validator.
func (w *Weights) Validate() error {
	for name, v := range map[string]float64{
		"sync":        w.Sync,
		"visual":      w.Visual,
		"thermal":     w.Thermal,
		"spatial":     w.Spatial,
		"reliability": w.Reliability,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s weight %v", errWeightOutOfRange, name, v)
		}
	}

	sum := w.Sync + w.Visual + w.Thermal + w.Spatial + w.Reliability
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: sum is %v", errWeightsMustSumToOne, sum)
	}

	return nil
}

// Config configures the assessment engine.
type Config struct {
	Weights  Weights `json:"weights"`
	Baseline float64 `json:"baseline"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	zero := Weights{}
	if c.Weights == zero {
		c.Weights = DefaultWeights()
	}

	if err := c.Weights.Validate(); err != nil {
		return err
	}

	if c.Baseline < 0 || c.Baseline > 1 {
		return fmt.Errorf("%w: %v", errBaselineOutOfRange, c.Baseline)
	}

	return nil
}
