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

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/recsync/recsync/pkg/device"
	"github.com/recsync/recsync/pkg/models"
	"github.com/recsync/recsync/pkg/quality"
	"github.com/recsync/recsync/pkg/timesync"
)

// capturePointParams is the command payload asking a device to sample one
// calibration point.
type capturePointParams struct {
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// captureReadings is what the device reports back for a capture. The sync
// sub-score is not in here: the coordinator derives it from its own clock
// offset estimate rather than trusting the device.
type captureReadings struct {
	Visual      float64 `json:"visual"`
	Thermal     float64 `json:"thermal"`
	Spatial     float64 `json:"spatial"`
	Reliability float64 `json:"reliability"`
}

// deviceCapturer implements calibration.Capturer over the device command
// channel.
type deviceCapturer struct {
	manager *device.Manager
	clocks  *timesync.Synchronizer
	fairMax time.Duration
}

func (dc *deviceCapturer) Capture(
	ctx context.Context,
	deviceID string,
	point models.CalibrationPoint,
) (quality.Capture, error) {
	params, err := json.Marshal(capturePointParams{Index: point.Index, X: point.X, Y: point.Y})
	if err != nil {
		return quality.Capture{}, err
	}

	ack, err := dc.manager.SendCommand(ctx, deviceID, "capture_point", params, true)
	if err != nil {
		return quality.Capture{}, err
	}

	var readings captureReadings
	if err := json.Unmarshal(ack.Data, &readings); err != nil {
		return quality.Capture{}, fmt.Errorf("capture readings from %s: %w", deviceID, err)
	}

	return quality.Capture{
		Sync:        dc.syncScore(deviceID),
		Visual:      readings.Visual,
		Thermal:     readings.Thermal,
		Spatial:     readings.Spatial,
		Reliability: readings.Reliability,
	}, nil
}

// syncScore maps the current offset estimate onto [0,1]: zero without a
// valid estimate, linear falloff to zero at the fair-band ceiling.
func (dc *deviceCapturer) syncScore(deviceID string) float64 {
	est, ok := dc.clocks.Estimate(deviceID)
	if !ok || !est.Valid {
		return 0
	}

	offset := est.Offset
	if offset < 0 {
		offset = -offset
	}

	score := 1 - float64(offset)/float64(dc.fairMax)
	if score < 0 {
		return 0
	}

	return score
}
