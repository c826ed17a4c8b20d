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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recsync/recsync/pkg/models"
)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := NewEngine(&Config{})
	require.NoError(t, err)

	return e
}

func overallSamples(values ...float64) []models.QualityMetricSample {
	samples := make([]models.QualityMetricSample, len(values))
	for i, v := range values {
		samples[i] = models.QualityMetricSample{PointIndex: i, Overall: v}
	}

	return samples
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	require.NoError(t, w.Validate())

	sum := w.Sync + w.Visual + w.Thermal + w.Spatial + w.Reliability
	assert.InDelta(t, 1.0, sum, weightSumTolerance)
}

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr error
	}{
		{
			name:    "defaults",
			weights: DefaultWeights(),
		},
		{
			name:    "sum below one",
			weights: Weights{Sync: 0.5, Visual: 0.4},
			wantErr: errWeightsMustSumToOne,
		},
		{
			name:    "negative weight",
			weights: Weights{Sync: -0.1, Visual: 0.5, Thermal: 0.3, Spatial: 0.2, Reliability: 0.1},
			wantErr: errWeightOutOfRange,
		},
		{
			name:    "weight above one",
			weights: Weights{Sync: 1.2},
			wantErr: errWeightOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
		})
	}
}

func TestConfigValidateBaseline(t *testing.T) {
	cfg := &Config{Baseline: 1.5}
	require.ErrorIs(t, cfg.Validate(), errBaselineOutOfRange)

	cfg = &Config{Baseline: 0.75}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultWeights(), cfg.Weights, "zero weights fall back to defaults")
}

func TestScoreWeighting(t *testing.T) {
	e := newDefaultEngine(t)

	s := e.Score(2, Capture{
		Sync:        1.0,
		Visual:      0.5,
		Thermal:     0.5,
		Spatial:     0.0,
		Reliability: 1.0,
	})

	assert.Equal(t, 2, s.PointIndex)
	assert.False(t, s.CapturedAt.IsZero())

	// 0.30*1 + 0.20*0.5 + 0.20*0.5 + 0.15*0 + 0.15*1
	assert.InDelta(t, 0.65, s.Overall, 1e-9)
}

func TestScoreClampsSubScores(t *testing.T) {
	e := newDefaultEngine(t)

	s := e.Score(0, Capture{
		Sync:        -0.5,
		Visual:      1.7,
		Thermal:     1.0,
		Spatial:     0.0,
		Reliability: 0.25,
	})

	assert.Equal(t, 0.0, s.Sync)
	assert.Equal(t, 1.0, s.Visual)
	assert.Equal(t, 1.0, s.Thermal)
	assert.Equal(t, 0.0, s.Spatial)
	assert.Equal(t, 0.25, s.Reliability)
	assert.GreaterOrEqual(t, s.Overall, 0.0)
	assert.LessOrEqual(t, s.Overall, 1.0)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 0.0, clamp01(0))
	assert.Equal(t, 0.5, clamp01(0.5))
	assert.Equal(t, 1.0, clamp01(1))
	assert.Equal(t, 1.0, clamp01(2))
}

func TestAggregate(t *testing.T) {
	e := newDefaultEngine(t)

	assert.Equal(t, 0.0, e.Aggregate(nil))
	assert.InDelta(t, 0.7675, e.Aggregate(overallSamples(0.9, 0.85, 0.92, 0.4)), 1e-9)
}

func TestWeakestSubScore(t *testing.T) {
	e := newDefaultEngine(t)

	name, mean := e.WeakestSubScore(nil)
	assert.Empty(t, name)
	assert.Zero(t, mean)

	samples := []models.QualityMetricSample{
		{Sync: 0.9, Visual: 0.8, Thermal: 0.7, Spatial: 0.95, Reliability: 1.0},
		{Sync: 0.5, Visual: 0.9, Thermal: 0.8, Spatial: 0.85, Reliability: 1.0},
	}

	name, mean = e.WeakestSubScore(samples)
	assert.Equal(t, "sync", name)
	assert.InDelta(t, 0.70, mean, 1e-9)
}

func TestStatsInsufficientData(t *testing.T) {
	e := newDefaultEngine(t)

	_, err := e.Stats(overallSamples(0.8, 0.9))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestStatsKnownValues(t *testing.T) {
	e := newDefaultEngine(t)

	s, err := e.Stats(overallSamples(0.8, 0.9, 1.0))
	require.NoError(t, err)

	assert.Equal(t, 3, s.SampleCount)
	assert.InDelta(t, 0.9, s.Mean, 1e-9)
	assert.InDelta(t, 0.1, s.StdDev, 1e-9)

	// n=3 uses the small-sample critical value 2.262.
	stdErr := 0.1 / 1.7320508075688772
	assert.InDelta(t, 0.9-2.262*stdErr, s.CILow, 1e-9)
	assert.InDelta(t, 0.9+2.262*stdErr, s.CIHigh, 1e-9)
	assert.Empty(t, s.Outliers)
}

func TestStatsZeroVariance(t *testing.T) {
	e := newDefaultEngine(t)

	s, err := e.Stats(overallSamples(0.85, 0.85, 0.85))
	require.NoError(t, err)

	assert.Zero(t, s.StdDev)
	assert.Equal(t, s.Mean, s.CILow)
	assert.Equal(t, s.Mean, s.CIHigh)
	assert.Zero(t, s.TStatistic)
	assert.False(t, s.BaselineRejected)
}

func TestStatsBaselineRejection(t *testing.T) {
	e, err := NewEngine(&Config{Baseline: 0.5})
	require.NoError(t, err)

	// Mean far above baseline with tiny spread: the test must reject.
	s, err := e.Stats(overallSamples(0.90, 0.91, 0.89, 0.90))
	require.NoError(t, err)

	assert.True(t, s.BaselineRejected)
	assert.Greater(t, s.TStatistic, tCritSmall)
	assert.LessOrEqual(t, s.PValue, pValueThreshold)

	// Baseline inside the sample range: no rejection.
	e2, err := NewEngine(&Config{Baseline: 0.9})
	require.NoError(t, err)

	s2, err := e2.Stats(overallSamples(0.89, 0.90, 0.91, 0.90))
	require.NoError(t, err)
	assert.False(t, s2.BaselineRejected)
}

func TestStatsOutlierFlaggedNotDiscarded(t *testing.T) {
	e := newDefaultEngine(t)

	values := []float64{0.88, 0.90, 0.89, 0.91, 0.90, 0.89, 0.20}

	s, err := e.Stats(overallSamples(values...))
	require.NoError(t, err)

	assert.Equal(t, []int{6}, s.Outliers)

	// The outlier still participates in the mean.
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	assert.InDelta(t, sum/float64(len(values)), s.Mean, 1e-9)
}

func TestTCriticalBuckets(t *testing.T) {
	assert.Equal(t, tCritSmall, tCritical(3))
	assert.Equal(t, tCritSmall, tCritical(9))
	assert.Equal(t, tCritMedium, tCritical(10))
	assert.Equal(t, tCritMedium, tCritical(29))
	assert.Equal(t, tCritLarge, tCritical(30))
	assert.Equal(t, tCritLarge, tCritical(100))
}

func TestQuantileInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	assert.Equal(t, 1.0, quantile(sorted, 0))
	assert.InDelta(t, 1.75, quantile(sorted, 0.25), 1e-9)
	assert.InDelta(t, 2.5, quantile(sorted, 0.5), 1e-9)
	assert.Equal(t, 4.0, quantile(sorted, 1))
	assert.Zero(t, quantile(nil, 0.5))
}
