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

// Package timesync estimates per-device clock offset and drift relative to
// the coordinator clock via periodic round-trip probes.
package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/recsync/recsync/pkg/logger"
	"github.com/recsync/recsync/pkg/models"
)

// Synchronizer owns every Clock Offset Estimate. Other components read
// snapshots; nobody else writes.
type Synchronizer struct {
	config    Config
	transport ProbeTransport
	clock     Clock
	logger    logger.Logger

	mu      sync.RWMutex
	devices map[string]*deviceClock
	cancels map[string]context.CancelFunc

	invalidateMu sync.RWMutex
	onInvalidate []func(deviceID string)

	wg sync.WaitGroup
}

// New creates a synchronizer. A nil clock defaults to the real clock.
func New(cfg *Config, transport ProbeTransport, clock Clock, log logger.Logger) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = realClock{}
	}

	return &Synchronizer{
		config:    *cfg,
		transport: transport,
		clock:     clock,
		logger:    log,
		devices:   make(map[string]*deviceClock),
		cancels:   make(map[string]context.CancelFunc),
	}, nil
}

// OnInvalidate registers a callback fired when a device's estimate is
// cleared after consecutive probe timeouts. The connection manager uses
// this for its health signal.
func (s *Synchronizer) OnInvalidate(fn func(deviceID string)) {
	s.invalidateMu.Lock()
	defer s.invalidateMu.Unlock()

	s.onInvalidate = append(s.onInvalidate, fn)
}

// Track starts the periodic probe loop for a device. Tracking an already
// tracked device is a no-op.
func (s *Synchronizer) Track(ctx context.Context, deviceID string) {
	s.mu.Lock()

	if _, ok := s.cancels[deviceID]; ok {
		s.mu.Unlock()
		return
	}

	if _, ok := s.devices[deviceID]; !ok {
		s.devices[deviceID] = &deviceClock{}
	}

	probeCtx, cancel := context.WithCancel(ctx)
	s.cancels[deviceID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.probeLoop(probeCtx, deviceID)
	}()
}

// Untrack stops the probe loop for a device. The estimate history is kept;
// a reattaching device resumes from prior state.
func (s *Synchronizer) Untrack(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[deviceID]; ok {
		cancel()
		delete(s.cancels, deviceID)
	}
}

// Stop cancels all probe loops and waits for them to exit.
func (s *Synchronizer) Stop() {
	s.mu.Lock()

	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}

	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Synchronizer) probeLoop(ctx context.Context, deviceID string) {
	interval := time.Duration(s.config.ProbeInterval)
	ticker := s.clock.Ticker(interval)

	defer ticker.Stop()

	s.probe(ctx, deviceID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.probe(ctx, deviceID)
		}
	}
}

func (s *Synchronizer) probe(ctx context.Context, deviceID string) {
	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ProbeTimeout))
	defer cancel()

	sample, err := s.transport.Probe(probeCtx, deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		s.logger.Debug().Err(err).Str("device_id", deviceID).Msg("Clock probe failed")
		s.RecordTimeout(deviceID)

		return
	}

	s.RecordSample(deviceID, sample)
}

// RecordSample folds one completed round trip into the device's estimate.
func (s *Synchronizer) RecordSample(deviceID string, sample ProbeSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		d = &deviceClock{}
		s.devices[deviceID] = d
	}

	wasDrifting := d.drifting

	d.observe(sample, s.clock.Now(), &s.config)

	if d.drifting && !wasDrifting {
		s.logger.Warn().
			Str("device_id", deviceID).
			Dur("offset", time.Duration(d.offset*float64(time.Second))).
			Msg("Device clock drifting")
	}
}

// RecordTimeout registers a probe timeout. Crossing the consecutive-timeout
// limit invalidates the estimate and fires the invalidation callbacks.
func (s *Synchronizer) RecordTimeout(deviceID string) {
	s.mu.Lock()

	d, ok := s.devices[deviceID]
	if !ok {
		d = &deviceClock{}
		s.devices[deviceID] = d
	}

	invalidated := d.timeout(&s.config)
	timeouts := d.timeouts

	s.mu.Unlock()

	if !invalidated {
		return
	}

	s.logger.Warn().
		Str("device_id", deviceID).
		Int("consecutive_timeouts", timeouts).
		Msg("Clock estimate invalidated after consecutive probe timeouts")

	s.invalidateMu.RLock()
	callbacks := make([]func(string), len(s.onInvalidate))
	copy(callbacks, s.onInvalidate)
	s.invalidateMu.RUnlock()

	for _, fn := range callbacks {
		fn(deviceID)
	}
}

// Estimate returns a read-only snapshot of one device's estimate.
func (s *Synchronizer) Estimate(deviceID string) (models.ClockOffsetEstimate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return models.ClockOffsetEstimate{}, false
	}

	return d.estimate(deviceID, &s.config), true
}

// Estimates snapshots every tracked device.
func (s *Synchronizer) Estimates() []models.ClockOffsetEstimate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ClockOffsetEstimate, 0, len(s.devices))

	for id, d := range s.devices {
		out = append(out, d.estimate(id, &s.config))
	}

	return out
}

// Valid reports whether a device currently holds a valid estimate. This is
// the health input consumed by the connection manager.
func (s *Synchronizer) Valid(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]

	return ok && d.valid
}
