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

// Package quality scores calibration captures and computes the statistics
// that gate whether a session is usable. Pure computation, no I/O.
package quality

import (
	"time"

	"github.com/recsync/recsync/pkg/models"
)

// Capture holds the raw per-capture readings before clamping and weighting.
type Capture struct {
	Sync        float64
	Visual      float64
	Thermal     float64
	Spatial     float64
	Reliability float64
}

// Engine applies the configured weights and baseline. Stateless apart from
// configuration; safe for concurrent use.
type Engine struct {
	weights  Weights
	baseline float64
}

// NewEngine creates an engine from a validated config.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		weights:  cfg.Weights,
		baseline: cfg.Baseline,
	}, nil
}

// Score clamps each sub-score to [0,1] and computes the weighted overall.
func (e *Engine) Score(pointIndex int, c Capture) models.QualityMetricSample {
	s := models.QualityMetricSample{
		PointIndex:  pointIndex,
		Sync:        clamp01(c.Sync),
		Visual:      clamp01(c.Visual),
		Thermal:     clamp01(c.Thermal),
		Spatial:     clamp01(c.Spatial),
		Reliability: clamp01(c.Reliability),
		CapturedAt:  time.Now(),
	}

	s.Overall = e.weights.Sync*s.Sync +
		e.weights.Visual*s.Visual +
		e.weights.Thermal*s.Thermal +
		e.weights.Spatial*s.Spatial +
		e.weights.Reliability*s.Reliability

	return s
}

// Aggregate is the mean overall score across samples, 0 for none.
func (*Engine) Aggregate(samples []models.QualityMetricSample) float64 {
	if len(samples) == 0 {
		return 0
	}

	sum := 0.0

	for i := range samples {
		sum += samples[i].Overall
	}

	return sum / float64(len(samples))
}

// WeakestSubScore names the sub-score with the lowest mean across samples,
// used for validation messages when a session fails its threshold.
func (*Engine) WeakestSubScore(samples []models.QualityMetricSample) (name string, mean float64) {
	if len(samples) == 0 {
		return "", 0
	}

	sums := map[string]float64{}

	for i := range samples {
		sums["sync"] += samples[i].Sync
		sums["visual"] += samples[i].Visual
		sums["thermal"] += samples[i].Thermal
		sums["spatial"] += samples[i].Spatial
		sums["reliability"] += samples[i].Reliability
	}

	name = ""
	mean = 2.0

	for _, sub := range []string{"sync", "visual", "thermal", "spatial", "reliability"} {
		m := sums[sub] / float64(len(samples))
		if m < mean {
			name = sub
			mean = m
		}
	}

	return name, mean
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
