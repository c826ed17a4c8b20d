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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recsync/recsync/pkg/logger"
	"github.com/recsync/recsync/pkg/models"
	"github.com/recsync/recsync/pkg/wire"
)

// fakeClock is a manually advanced clock whose tickers fire on demand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	ch  chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start, ch: make(chan time.Time, 16)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Tick() {
	c.ch <- c.Now()
}

func (c *fakeClock) Ticker(time.Duration) Ticker { return fakeTicker{ch: c.ch} }

type fakeTicker struct {
	ch chan time.Time
}

func (t fakeTicker) Chan() <-chan time.Time { return t.ch }
func (fakeTicker) Stop()                    {}

// scriptedTransport replays a fixed sequence of probe results.
type scriptedTransport struct {
	mu      sync.Mutex
	samples []ProbeSample
	errs    []error
	calls   int
	done    chan struct{}
}

func (s *scriptedTransport) Probe(_ context.Context, _ string) (ProbeSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++

	if s.done != nil && s.calls == len(s.samples)+len(s.errs) {
		close(s.done)
	}

	if i < len(s.samples) {
		return s.samples[i], nil
	}

	if j := i - len(s.samples); j < len(s.errs) {
		return ProbeSample{}, s.errs[j]
	}

	return ProbeSample{}, errors.New("transport exhausted")
}

// sampleWithOffset builds a round trip where the device clock leads the
// coordinator clock by exactly offset, with a symmetric 10ms path.
func sampleWithOffset(base time.Time, offset time.Duration) ProbeSample {
	mid := base.Add(5 * time.Millisecond)

	deviceMid := wire.ToTimestamp(mid.Add(offset))

	return ProbeSample{
		CoordSend:  base,
		CoordRecv:  base.Add(10 * time.Millisecond),
		DeviceRecv: deviceMid,
		DeviceSend: deviceMid,
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	return cfg
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, time.Duration(cfg.ProbeInterval))
	assert.Equal(t, 5*time.Second, time.Duration(cfg.ProbeTimeout))
	assert.Equal(t, 15*time.Millisecond, time.Duration(cfg.JitterThreshold))
	assert.Equal(t, 5, cfg.MaxConsecutiveTimeouts)
	assert.Equal(t, 10*time.Millisecond, time.Duration(cfg.Bands.ExcellentMax))
	assert.Equal(t, 50*time.Millisecond, time.Duration(cfg.Bands.GoodMax))
	assert.Equal(t, 100*time.Millisecond, time.Duration(cfg.Bands.FairMax))
}

func TestConfigValidateBandOrdering(t *testing.T) {
	cfg := &Config{
		Bands: Bands{
			ExcellentMax: models.Duration(50 * time.Millisecond),
			GoodMax:      models.Duration(20 * time.Millisecond),
			FairMax:      models.Duration(100 * time.Millisecond),
		},
	}

	require.ErrorIs(t, cfg.Validate(), errBandOrdering)
}

func TestSteadyOffsetConverges(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(cfg, nil, clock, logger.NewTestLogger())
	require.NoError(t, err)

	base := clock.Now()
	offset := 3 * time.Millisecond

	for i := 0; i < 5; i++ {
		s.RecordSample("cam-1", sampleWithOffset(base.Add(time.Duration(i)*10*time.Second), offset))
		clock.Advance(10 * time.Second)
	}

	est, ok := s.Estimate("cam-1")
	require.True(t, ok)

	assert.True(t, est.Valid)
	assert.Equal(t, 5, est.Samples)
	assert.False(t, est.Drifting)
	assert.Equal(t, models.BandExcellent, est.Band)
	assert.InDelta(t, offset.Seconds(), est.Offset.Seconds(), 1e-6)
	assert.Less(t, est.Jitter, time.Millisecond)
}

func TestEstimateInvalidBelowMinSamples(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(cfg, nil, clock, logger.NewTestLogger())
	require.NoError(t, err)

	base := clock.Now()

	s.RecordSample("cam-1", sampleWithOffset(base, 2*time.Millisecond))
	s.RecordSample("cam-1", sampleWithOffset(base, 2*time.Millisecond))

	est, ok := s.Estimate("cam-1")
	require.True(t, ok)

	assert.False(t, est.Valid)
	assert.Equal(t, models.BandUnsynchronized, est.Band)
}

func TestHighJitterInvalidatesEstimate(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(cfg, nil, clock, logger.NewTestLogger())
	require.NoError(t, err)

	base := clock.Now()

	// Alternating 0ms and 200ms offsets keep the EWMA jitter far above
	// the 15ms threshold.
	for i := 0; i < 10; i++ {
		offset := time.Duration(0)
		if i%2 == 1 {
			offset = 200 * time.Millisecond
		}

		s.RecordSample("cam-1", sampleWithOffset(base.Add(time.Duration(i)*10*time.Second), offset))
	}

	est, ok := s.Estimate("cam-1")
	require.True(t, ok)

	assert.False(t, est.Valid)
	assert.Equal(t, models.BandUnsynchronized, est.Band)
	assert.GreaterOrEqual(t, est.Samples, minValidSamples)
}

func TestConsecutiveTimeoutsInvalidate(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(cfg, nil, clock, logger.NewTestLogger())
	require.NoError(t, err)

	var invalidatedMu sync.Mutex

	var invalidated []string

	s.OnInvalidate(func(deviceID string) {
		invalidatedMu.Lock()
		invalidated = append(invalidated, deviceID)
		invalidatedMu.Unlock()
	})

	base := clock.Now()
	for i := 0; i < 5; i++ {
		s.RecordSample("cam-1", sampleWithOffset(base.Add(time.Duration(i)*10*time.Second), 2*time.Millisecond))
	}

	require.True(t, s.Valid("cam-1"))

	for i := 0; i < 4; i++ {
		s.RecordTimeout("cam-1")
		assert.True(t, s.Valid("cam-1"), "estimate must survive %d timeouts", i+1)
	}

	s.RecordTimeout("cam-1")

	assert.False(t, s.Valid("cam-1"))

	est, ok := s.Estimate("cam-1")
	require.True(t, ok)
	assert.Equal(t, models.BandUnsynchronized, est.Band)

	invalidatedMu.Lock()
	defer invalidatedMu.Unlock()

	assert.Equal(t, []string{"cam-1"}, invalidated)
}

func TestTimeoutRunResetBySample(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(cfg, nil, clock, logger.NewTestLogger())
	require.NoError(t, err)

	base := clock.Now()
	for i := 0; i < 5; i++ {
		s.RecordSample("cam-1", sampleWithOffset(base.Add(time.Duration(i)*10*time.Second), 2*time.Millisecond))
	}

	for i := 0; i < 4; i++ {
		s.RecordTimeout("cam-1")
	}

	// A successful probe resets the consecutive-timeout counter.
	s.RecordSample("cam-1", sampleWithOffset(base.Add(time.Minute), 2*time.Millisecond))

	for i := 0; i < 4; i++ {
		s.RecordTimeout("cam-1")
	}

	assert.True(t, s.Valid("cam-1"))
}

func TestDriftDetection(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(cfg, nil, clock, logger.NewTestLogger())
	require.NoError(t, err)

	base := clock.Now()

	// Offset grows 20ms per 10s probe: 2ms/s, well over the 1ms/s slope.
	for i := 0; i < driftWindow; i++ {
		offset := time.Duration(i) * 20 * time.Millisecond
		s.RecordSample("cam-1", sampleWithOffset(base.Add(time.Duration(i)*10*time.Second), offset))
		clock.Advance(10 * time.Second)
	}

	est, ok := s.Estimate("cam-1")
	require.True(t, ok)

	assert.True(t, est.Drifting)
}

func TestDriftDemotesBand(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(cfg, nil, clock, logger.NewTestLogger())
	require.NoError(t, err)

	base := clock.Now()

	// Offsets still sit inside the excellent band, but the 2ms/s trend
	// flags drift, which costs the estimate one band.
	for i := 0; i < driftWindow; i++ {
		offset := time.Duration(i) * 2 * time.Millisecond
		s.RecordSample("cam-1", sampleWithOffset(base.Add(time.Duration(i)*time.Second), offset))
		clock.Advance(time.Second)
	}

	est, ok := s.Estimate("cam-1")
	require.True(t, ok)

	require.True(t, est.Drifting)
	assert.True(t, est.Valid)
	assert.Less(t, est.Offset, 10*time.Millisecond)
	assert.Equal(t, models.BandGood, est.Band)
}

func TestNoDriftOnStableOffset(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	s, err := New(cfg, nil, clock, logger.NewTestLogger())
	require.NoError(t, err)

	base := clock.Now()

	for i := 0; i < driftWindow+2; i++ {
		s.RecordSample("cam-1", sampleWithOffset(base.Add(time.Duration(i)*10*time.Second), 5*time.Millisecond))
		clock.Advance(10 * time.Second)
	}

	est, ok := s.Estimate("cam-1")
	require.True(t, ok)

	assert.False(t, est.Drifting)
}

func TestBandBoundaries(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name     string
		offset   time.Duration
		drifting bool
		want     models.QualityBand
	}{
		{"at excellent edge", 10 * time.Millisecond, false, models.BandExcellent},
		{"within good", 30 * time.Millisecond, false, models.BandGood},
		{"within fair", 80 * time.Millisecond, false, models.BandFair},
		{"beyond fair", 150 * time.Millisecond, false, models.BandPoor},
		{"negative offset uses magnitude", -30 * time.Millisecond, false, models.BandGood},
		{"drifting demotes excellent", 5 * time.Millisecond, true, models.BandGood},
		{"drifting demotes good", 30 * time.Millisecond, true, models.BandFair},
		{"drifting keeps poor at poor", 150 * time.Millisecond, true, models.BandPoor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, band(tt.offset, true, tt.drifting, cfg))
		})
	}

	assert.Equal(t, models.BandUnsynchronized, band(5*time.Millisecond, false, true, cfg))
}

func TestProbeLoopFeedsEstimator(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	base := clock.Now()
	done := make(chan struct{})

	transport := &scriptedTransport{done: done}
	for i := 0; i < 5; i++ {
		transport.samples = append(transport.samples,
			sampleWithOffset(base.Add(time.Duration(i)*10*time.Second), 4*time.Millisecond))
	}

	s, err := New(cfg, transport, clock, logger.NewTestLogger())
	require.NoError(t, err)

	defer s.Stop()

	s.Track(context.Background(), "cam-1")

	// One probe fires immediately on Track; tick out the rest.
	for i := 0; i < 4; i++ {
		clock.Tick()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("probe loop did not consume the scripted samples")
	}

	require.Eventually(t, func() bool {
		est, ok := s.Estimate("cam-1")
		return ok && est.Samples == 5
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, s.Valid("cam-1"))
}

func TestUntrackStopsProbing(t *testing.T) {
	cfg := testConfig(t)
	clock := newFakeClock(time.Unix(1700000000, 0))

	done := make(chan struct{})
	transport := &scriptedTransport{
		samples: []ProbeSample{sampleWithOffset(clock.Now(), time.Millisecond)},
		done:    done,
	}

	s, err := New(cfg, transport, clock, logger.NewTestLogger())
	require.NoError(t, err)

	s.Track(context.Background(), "cam-1")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("initial probe never ran")
	}

	s.Untrack("cam-1")
	s.Stop()

	transport.mu.Lock()
	calls := transport.calls
	transport.mu.Unlock()

	// History survives untracking so a reattaching device resumes.
	_, ok := s.Estimate("cam-1")
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
}
