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
	"math"
	"sort"

	"github.com/recsync/recsync/pkg/models"
)

// MinSamples is the smallest sample count for which statistics are computed.
const MinSamples = 3

const (
	// Two-sided 95% t critical values, keyed by sample count bucket.
	tCritSmall  = 2.262 // n < 10 (df 9)
	tCritMedium = 2.045 // 10 <= n < 30 (df 29)
	tCritLarge  = 1.960 // n >= 30, normal limit

	iqrFenceFactor = 1.5

	pValueThreshold = 0.05
)

// Stats is the statistical layer over the running sample set.
type Stats struct {
	SampleCount      int     `json:"sample_count"`
	Mean             float64 `json:"mean"`
	StdDev           float64 `json:"std_dev"`
	CILow            float64 `json:"ci_low"`
	CIHigh           float64 `json:"ci_high"`
	TStatistic       float64 `json:"t_statistic"`
	PValue           float64 `json:"p_value"`
	BaselineRejected bool    `json:"baseline_rejected"`
	Outliers         []int   `json:"outliers,omitempty"`
}

// Stats computes mean, standard deviation, the two-sided confidence interval
// and the one-sample baseline test over the overall scores. Fewer than
// MinSamples samples is reported as ErrInsufficientData, never a degenerate
// estimate.
func (e *Engine) Stats(samples []models.QualityMetricSample) (*Stats, error) {
	n := len(samples)
	if n < MinSamples {
		return nil, ErrInsufficientData
	}

	values := make([]float64, n)
	for i := range samples {
		values[i] = samples[i].Overall
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}

	mean /= float64(n)

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}

	variance /= float64(n - 1)

	stdDev := math.Sqrt(variance)
	stdErr := stdDev / math.Sqrt(float64(n))
	crit := tCritical(n)

	s := &Stats{
		SampleCount: n,
		Mean:        mean,
		StdDev:      stdDev,
		CILow:       mean - crit*stdErr,
		CIHigh:      mean + crit*stdErr,
		Outliers:    iqrOutliers(values),
	}

	// One-sample test of the mean against the configured baseline. The
	// p-value uses the normal approximation; the critical-value check
	// carries the small-sample correction.
	if stdErr > 0 {
		s.TStatistic = (mean - e.baseline) / stdErr
		s.PValue = math.Erfc(math.Abs(s.TStatistic) / math.Sqrt2)
		s.BaselineRejected = math.Abs(s.TStatistic) > crit && s.PValue <= pValueThreshold
	}

	return s, nil
}

func tCritical(n int) float64 {
	switch {
	case n < 10:
		return tCritSmall
	case n < 30:
		return tCritMedium
	default:
		return tCritLarge
	}
}

// iqrOutliers flags sample indices more than 1.5 IQR outside the quartile
// range. Flagged for review, never discarded.
func iqrOutliers(values []float64) []int {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1

	low := q1 - iqrFenceFactor*iqr
	high := q3 + iqrFenceFactor*iqr

	var outliers []int

	for i, v := range values {
		if v < low || v > high {
			outliers = append(outliers, i)
		}
	}

	return outliers
}

// quantile interpolates linearly between order statistics.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))

	if lo == hi {
		return sorted[lo]
	}

	frac := pos - float64(lo)

	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
