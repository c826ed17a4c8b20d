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

//go:generate mockgen -destination=mock_timesync.go -package=timesync github.com/recsync/recsync/pkg/timesync Clock,Ticker,ProbeTransport

import (
	"context"
	"time"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// ProbeSample is one completed round trip. Coordinator times are local;
// device times are the device clock in fractional seconds since epoch, as
// echoed on the wire.
type ProbeSample struct {
	CoordSend  time.Time
	CoordRecv  time.Time
	DeviceRecv float64
	DeviceSend float64
}

// ProbeTransport performs one timestamped round trip against a device. The
// device connection manager implements this on top of the wire protocol.
type ProbeTransport interface {
	Probe(ctx context.Context, deviceID string) (ProbeSample, error)
}
