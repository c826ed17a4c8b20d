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
	"math"
	"time"

	"github.com/recsync/recsync/pkg/models"
	"github.com/recsync/recsync/pkg/wire"
)

const (
	// EWMA gains follow the classic RTT estimator: slow for the offset,
	// faster for its variability.
	offsetGain = 0.125
	jitterGain = 0.25

	// minValidSamples is the sample count below which an estimate is
	// never considered valid.
	minValidSamples = 3

	// driftWindow is how many recent offsets feed the drift detector.
	driftWindow = 8
)

// offsetPoint is one raw offset observation kept for drift detection.
type offsetPoint struct {
	at     time.Time
	offset float64 // seconds
}

// deviceClock is the synchronizer's per-device state. Access is serialized
// by the Synchronizer's lock.
type deviceClock struct {
	offset      float64 // EWMA offset, seconds, device minus coordinator
	jitter      float64 // EWMA of |offset - sample|, seconds
	samples     int
	timeouts    int
	valid       bool
	drifting    bool
	lastUpdated time.Time
	history     []offsetPoint
}

// observe folds one probe round trip into the estimate.
func (d *deviceClock) observe(sample ProbeSample, now time.Time, cfg *Config) {
	coordSend := wire.ToTimestamp(sample.CoordSend)
	coordRecv := wire.ToTimestamp(sample.CoordRecv)

	raw := ((sample.DeviceRecv - coordSend) + (sample.DeviceSend - coordRecv)) / 2

	if d.samples == 0 {
		d.offset = raw
		d.jitter = 0
	} else {
		deviation := math.Abs(raw - d.offset)
		d.jitter = (1-jitterGain)*d.jitter + jitterGain*deviation
		d.offset = (1-offsetGain)*d.offset + offsetGain*raw
	}

	d.samples++
	d.timeouts = 0
	d.lastUpdated = now

	d.history = append(d.history, offsetPoint{at: now, offset: raw})
	if len(d.history) > driftWindow {
		d.history = d.history[len(d.history)-driftWindow:]
	}

	d.drifting = d.detectDrift(cfg.DriftSlope)
	d.valid = d.samples >= minValidSamples &&
		d.jitter <= time.Duration(cfg.JitterThreshold).Seconds()
}

// timeout records a probe failure. After the configured run of consecutive
// timeouts the estimate is invalidated; history is kept.
func (d *deviceClock) timeout(cfg *Config) (invalidated bool) {
	d.timeouts++

	if d.timeouts >= cfg.MaxConsecutiveTimeouts && d.valid {
		d.valid = false
		return true
	}

	if d.timeouts >= cfg.MaxConsecutiveTimeouts {
		d.valid = false
	}

	return false
}

// detectDrift reports a monotone offset trend whose slope exceeds the
// configured threshold across the sliding window.
func (d *deviceClock) detectDrift(slopeThreshold float64) bool {
	if len(d.history) < driftWindow {
		return false
	}

	sign := 0.0

	for i := 1; i < len(d.history); i++ {
		diff := d.history[i].offset - d.history[i-1].offset
		if diff == 0 {
			return false
		}

		s := math.Copysign(1, diff)
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}

	first := d.history[0]
	last := d.history[len(d.history)-1]

	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return false
	}

	slope := (last.offset - first.offset) / elapsed

	return math.Abs(slope) > slopeThreshold
}

// estimate snapshots the state into the shared model type.
func (d *deviceClock) estimate(deviceID string, cfg *Config) models.ClockOffsetEstimate {
	offset := time.Duration(d.offset * float64(time.Second))
	jitter := time.Duration(d.jitter * float64(time.Second))

	return models.ClockOffsetEstimate{
		DeviceID:    deviceID,
		Offset:      offset,
		Jitter:      jitter,
		Samples:     d.samples,
		Valid:       d.valid,
		Drifting:    d.drifting,
		Band:        band(offset, d.valid, d.drifting, cfg),
		LastUpdated: d.lastUpdated,
	}
}

func band(offset time.Duration, valid, drifting bool, cfg *Config) models.QualityBand {
	if !valid {
		return models.BandUnsynchronized
	}

	magnitude := offset
	if magnitude < 0 {
		magnitude = -magnitude
	}

	var b models.QualityBand

	switch {
	case magnitude <= time.Duration(cfg.Bands.ExcellentMax):
		b = models.BandExcellent
	case magnitude <= time.Duration(cfg.Bands.GoodMax):
		b = models.BandGood
	case magnitude <= time.Duration(cfg.Bands.FairMax):
		b = models.BandFair
	default:
		b = models.BandPoor
	}

	// A drifting clock reads one band worse than its offset alone says;
	// the trend means the estimate is already going stale.
	if drifting {
		b = demoteBand(b)
	}

	return b
}

func demoteBand(b models.QualityBand) models.QualityBand {
	switch b {
	case models.BandExcellent:
		return models.BandGood
	case models.BandGood:
		return models.BandFair
	default:
		return models.BandPoor
	}
}
