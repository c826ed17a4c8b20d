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

// Package calibration drives the calibration session state machine:
// Inactive, Active, Paused, Completed, Failed. Every transition is persisted
// before control returns to the caller.
package calibration

//go:generate mockgen -destination=mock_calibration.go -package=calibration github.com/recsync/recsync/pkg/calibration Capturer,DevicePool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recsync/recsync/pkg/events"
	"github.com/recsync/recsync/pkg/kv"
	"github.com/recsync/recsync/pkg/logger"
	"github.com/recsync/recsync/pkg/models"
	"github.com/recsync/recsync/pkg/quality"
	"github.com/recsync/recsync/pkg/timesync"
)

const (
	// activeSessionKey holds the live session; finished sessions are
	// archived under archiveKeyPrefix and never deleted.
	activeSessionKey = "calibration.active"
	archiveKeyPrefix = "calibration.sessions."
)

// Capturer yields the raw per-point readings on demand. The coordinator
// wires in the collaborator that talks to the device.
type Capturer interface {
	Capture(ctx context.Context, deviceID string, point models.CalibrationPoint) (quality.Capture, error)
}

// DevicePool is the connection-manager surface the controller needs.
type DevicePool interface {
	GetConnected() []models.DeviceRecord
	Healthy(deviceID string) bool
}

// Controller owns the single active calibration session.
type Controller struct {
	config   *Config
	engine   *quality.Engine
	capturer Capturer
	devices  DevicePool
	store    kv.Store
	bus      *events.Bus
	clock    timesync.Clock
	logger   logger.Logger

	mu      sync.Mutex
	session *models.CalibrationSession
}

// NewController builds a controller. A nil clock defaults to the real clock.
func NewController(
	cfg *Config,
	engine *quality.Engine,
	capturer Capturer,
	devices DevicePool,
	store kv.Store,
	bus *events.Bus,
	clock timesync.Clock,
	log logger.Logger,
) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = timesync.RealClock()
	}

	return &Controller{
		config:   cfg,
		engine:   engine,
		capturer: capturer,
		devices:  devices,
		store:    store,
		bus:      bus,
		clock:    clock,
		logger:   log,
	}, nil
}

// Start opens a session. It requires no session in progress and at least
// one connected, healthy device; the highest-priority healthy device is
// chosen.
func (c *Controller) Start(
	ctx context.Context,
	pattern models.PatternType,
	custom []models.CalibrationPoint,
) (models.CalibrationSession, error) {
	points, err := PatternPoints(pattern, custom)
	if err != nil {
		return models.CalibrationSession{}, err
	}

	deviceID, err := c.pickDevice()
	if err != nil {
		return models.CalibrationSession{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && inProgress(c.session.State) {
		return models.CalibrationSession{}, fmt.Errorf("%w: %s", ErrSessionActive, c.session.SessionID)
	}

	now := c.clock.Now()

	c.session = &models.CalibrationSession{
		SessionID: uuid.NewString(),
		DeviceID:  deviceID,
		Pattern:   pattern,
		Points:    points,
		State:     models.SessionActive,
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := c.persistLocked(ctx); err != nil {
		c.session = nil
		return models.CalibrationSession{}, err
	}

	c.logger.Info().
		Str("session_id", c.session.SessionID).
		Str("device_id", deviceID).
		Str("pattern", string(pattern)).
		Int("points", len(points)).
		Msg("Calibration session started")

	c.publish(events.SessionStarted, c.session.SessionID,
		fmt.Sprintf("calibration started: %s pattern, %d points", pattern, len(points)))

	return *c.session, nil
}

func (c *Controller) pickDevice() (string, error) {
	var best *models.DeviceRecord

	for _, rec := range c.devices.GetConnected() {
		rec := rec

		if !c.devices.Healthy(rec.DeviceID) {
			continue
		}

		if best == nil || rec.Priority > best.Priority {
			best = &rec
		}
	}

	if best == nil {
		return "", ErrNoHealthyDevice
	}

	return best.DeviceID, nil
}

// CapturePoint captures one calibration point, scores it, and commits the
// transition before returning. When the last point completes the session is
// finalized against the quality threshold.
func (c *Controller) CapturePoint(ctx context.Context, index int) (models.QualityMetricSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return models.QualityMetricSample{}, ErrNoActiveSession
	}

	if err := c.refreshStaleLocked(ctx); err != nil {
		return models.QualityMetricSample{}, err
	}

	if c.session.State != models.SessionActive {
		return models.QualityMetricSample{}, fmt.Errorf("%w: state is %s", ErrSessionNotActive, c.session.State)
	}

	if index < 0 || index >= len(c.session.Points) {
		return models.QualityMetricSample{}, fmt.Errorf("%w: %d of %d", ErrPointIndex, index, len(c.session.Points))
	}

	if c.session.Points[index].Completed {
		return models.QualityMetricSample{}, fmt.Errorf("%w: point %d", ErrPointCompleted, index)
	}

	if !c.devices.Healthy(c.session.DeviceID) {
		msg := fmt.Sprintf("device %s became unhealthy during calibration", c.session.DeviceID)
		c.session.ValidationMessages = append(c.session.ValidationMessages, msg)

		if err := c.failLocked(ctx); err != nil {
			return models.QualityMetricSample{}, err
		}

		return models.QualityMetricSample{}, fmt.Errorf("%w: %s", ErrSessionNotActive, msg)
	}

	capture, err := c.capturer.Capture(ctx, c.session.DeviceID, c.session.Points[index])
	if err != nil {
		return models.QualityMetricSample{}, fmt.Errorf("capture point %d: %w", index, err)
	}

	sample := c.engine.Score(index, capture)

	now := c.clock.Now()
	c.session.Points[index].Completed = true
	c.session.Points[index].CapturedAt = &now
	c.session.Samples = append(c.session.Samples, sample)

	if c.session.AllPointsCompleted() {
		if err := c.finalizeLocked(ctx); err != nil {
			return models.QualityMetricSample{}, err
		}

		return sample, nil
	}

	if err := c.persistLocked(ctx); err != nil {
		return models.QualityMetricSample{}, err
	}

	return sample, nil
}

// Pause suspends an active session, preserving point completion state.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNoActiveSession
	}

	if c.session.State != models.SessionActive {
		return fmt.Errorf("%w: state is %s", ErrSessionNotActive, c.session.State)
	}

	c.session.State = models.SessionPaused

	if err := c.persistLocked(ctx); err != nil {
		return err
	}

	c.publish(events.StatusText, c.session.SessionID, "calibration paused")

	return nil
}

// Resume reactivates a paused or stale session. A stale session resumes
// only with confirmStale set.
func (c *Controller) Resume(ctx context.Context, confirmStale bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNoActiveSession
	}

	stale := false

	if err := c.refreshStaleLocked(ctx); err != nil {
		if !errors.Is(err, ErrSessionStale) {
			return err
		}

		stale = true
	}

	if stale && !confirmStale {
		return ErrSessionStale
	}

	if c.session.State != models.SessionPaused && !(c.session.State == models.SessionActive && stale) {
		return fmt.Errorf("%w: state is %s", ErrSessionNotPaused, c.session.State)
	}

	c.session.State = models.SessionActive
	c.session.Stale = false

	if err := c.persistLocked(ctx); err != nil {
		return err
	}

	c.publish(events.StatusText, c.session.SessionID, "calibration resumed")

	return nil
}

// Abort fails the session immediately with the given reason.
func (c *Controller) Abort(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || !inProgress(c.session.State) {
		return ErrNoActiveSession
	}

	c.session.ValidationMessages = append(c.session.ValidationMessages, "aborted: "+reason)

	return c.failLocked(ctx)
}

// Session snapshots the current session, finished or not.
func (c *Controller) Session() (models.CalibrationSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return models.CalibrationSession{}, false
	}

	return *c.session, true
}

// Stats exposes the statistical layer over the session's samples.
func (c *Controller) Stats() (*quality.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrNoActiveSession
	}

	return c.engine.Stats(c.session.Samples)
}

// Restore adopts a persisted in-progress session after a restart. The
// session resumes from the last committed transition.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	data, found, err := c.store.Get(ctx, activeSessionKey)
	if err != nil {
		return false, err
	}

	if !found {
		return false, nil
	}

	var session models.CalibrationSession
	if err := json.Unmarshal(data, &session); err != nil {
		return false, fmt.Errorf("restore calibration session: %w", err)
	}

	if !inProgress(session.State) {
		return false, nil
	}

	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()

	c.logger.Info().
		Str("session_id", session.SessionID).
		Str("state", string(session.State)).
		Int("completed_points", session.CompletedPoints()).
		Msg("Restored interrupted calibration session")

	return true, nil
}

func inProgress(state models.SessionState) bool {
	return state == models.SessionActive || state == models.SessionPaused
}

// refreshStaleLocked flags a session idle past the staleness window.
func (c *Controller) refreshStaleLocked(ctx context.Context) error {
	if c.session.Stale {
		return ErrSessionStale
	}

	if c.clock.Now().Sub(c.session.UpdatedAt) > time.Duration(c.config.StalenessWindow) {
		c.session.Stale = true

		if err := c.persistLocked(ctx); err != nil {
			return err
		}

		return ErrSessionStale
	}

	return nil
}

// finalizeLocked settles a fully captured session against the threshold.
func (c *Controller) finalizeLocked(ctx context.Context) error {
	aggregate := c.engine.Aggregate(c.session.Samples)

	if aggregate > c.config.QualityThreshold {
		c.session.State = models.SessionCompleted

		if err := c.archiveLocked(ctx); err != nil {
			return err
		}

		c.logger.Info().
			Str("session_id", c.session.SessionID).
			Float64("aggregate", aggregate).
			Msg("Calibration session completed")

		c.publish(events.SessionCompleted, c.session.SessionID,
			fmt.Sprintf("calibration completed with aggregate quality %.2f", aggregate))

		return nil
	}

	c.session.ValidationMessages = append(c.session.ValidationMessages,
		fmt.Sprintf("aggregate quality %.2f at or below threshold %.2f", aggregate, c.config.QualityThreshold))

	if name, mean := c.engine.WeakestSubScore(c.session.Samples); name != "" {
		c.session.ValidationMessages = append(c.session.ValidationMessages,
			fmt.Sprintf("weakest sub-score: %s (mean %.2f)", name, mean))
	}

	for _, sample := range c.session.Samples {
		if sample.Overall <= c.config.QualityThreshold {
			c.session.ValidationMessages = append(c.session.ValidationMessages,
				fmt.Sprintf("point %d scored %.2f", sample.PointIndex, sample.Overall))
		}
	}

	return c.failLocked(ctx)
}

func (c *Controller) failLocked(ctx context.Context) error {
	c.session.State = models.SessionFailed

	if err := c.archiveLocked(ctx); err != nil {
		return err
	}

	c.logger.Warn().
		Str("session_id", c.session.SessionID).
		Strs("validation_messages", c.session.ValidationMessages).
		Msg("Calibration session failed")

	c.publish(events.SessionFailed, c.session.SessionID,
		fmt.Sprintf("calibration failed: %d validation messages", len(c.session.ValidationMessages)))

	return nil
}

// persistLocked writes the session before the transition returns. One local
// retry; a second failure is surfaced as fatal rather than swallowed.
func (c *Controller) persistLocked(ctx context.Context) error {
	c.session.UpdatedAt = c.clock.Now()

	data, err := json.Marshal(c.session)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	if err := c.store.Put(ctx, activeSessionKey, data); err != nil {
		if err := c.store.Put(ctx, activeSessionKey, data); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistFailed, err)
		}
	}

	return nil
}

// archiveLocked commits a finished session to the archive and releases the
// active slot. Archived sessions are never deleted.
func (c *Controller) archiveLocked(ctx context.Context) error {
	if err := c.persistLocked(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(c.session)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	key := archiveKeyPrefix + c.session.SessionID

	if err := c.store.Put(ctx, key, data); err != nil {
		if err := c.store.Put(ctx, key, data); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistFailed, err)
		}
	}

	if err := c.store.Delete(ctx, activeSessionKey); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear active calibration key")
	}

	return nil
}

func (c *Controller) publish(eventType events.EventType, sessionID, message string) {
	if c.bus == nil {
		return
	}

	c.bus.Publish(events.Event{
		Type:      eventType,
		SessionID: sessionID,
		Message:   message,
		Timestamp: c.clock.Now(),
	})
}
