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

package device

import (
	"fmt"
	"time"

	"github.com/recsync/recsync/pkg/models"
)

const (
	defaultMaxDevices          = 4
	defaultHeartbeatTimeout    = 30 * time.Second
	defaultHealthCheckInterval = 5 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultAckTimeout          = 5 * time.Second
	defaultRetentionWindow     = 24 * time.Hour

	defaultBackoffBase     = time.Second
	defaultBackoffMax      = 30 * time.Second
	defaultBackoffAttempts = 6
)

var (
	errMaxDevicesNegative  = fmt.Errorf("max_devices must be positive")
	errBackoffBaseExceeds  = fmt.Errorf("backoff base_delay must not exceed max_delay")
	errBackoffAttemptsZero = fmt.Errorf("backoff max_attempts must be positive")
)

// BackoffConfig shapes the reconnect retry schedule.
type BackoffConfig struct {
	BaseDelay   models.Duration `json:"base_delay"`
	MaxDelay    models.Duration `json:"max_delay"`
	MaxAttempts int             `json:"max_attempts"`
}

// Config controls the connection manager.
type Config struct {
	// MaxDevices caps concurrently connected devices. Attach requests
	// beyond the cap queue by priority.
	MaxDevices int `json:"max_devices"`

	// AllowPreemption lets a higher-priority attach evict the lowest
	// priority connected device instead of queueing.
	AllowPreemption bool `json:"allow_preemption"`

	// DisconnectUnhealthy detaches a device when its health flips false.
	// Off by default; loss of health is an event, not a disconnection.
	DisconnectUnhealthy bool `json:"disconnect_unhealthy"`

	HeartbeatTimeout    models.Duration `json:"heartbeat_timeout"`
	HealthCheckInterval models.Duration `json:"health_check_interval"`
	DialTimeout         models.Duration `json:"dial_timeout"`
	AckTimeout          models.Duration `json:"ack_timeout"`

	// RetentionWindow marks records unseen for longer than this as stale.
	// Records are never deleted.
	RetentionWindow models.Duration `json:"retention_window"`

	Backoff BackoffConfig `json:"backoff"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.MaxDevices < 0 {
		return errMaxDevicesNegative
	}

	if c.MaxDevices == 0 {
		c.MaxDevices = defaultMaxDevices
	}

	if time.Duration(c.HeartbeatTimeout) == 0 {
		c.HeartbeatTimeout = models.Duration(defaultHeartbeatTimeout)
	}

	if time.Duration(c.HealthCheckInterval) == 0 {
		c.HealthCheckInterval = models.Duration(defaultHealthCheckInterval)
	}

	if time.Duration(c.DialTimeout) == 0 {
		c.DialTimeout = models.Duration(defaultDialTimeout)
	}

	if time.Duration(c.AckTimeout) == 0 {
		c.AckTimeout = models.Duration(defaultAckTimeout)
	}

	if time.Duration(c.RetentionWindow) == 0 {
		c.RetentionWindow = models.Duration(defaultRetentionWindow)
	}

	if time.Duration(c.Backoff.BaseDelay) == 0 {
		c.Backoff.BaseDelay = models.Duration(defaultBackoffBase)
	}

	if time.Duration(c.Backoff.MaxDelay) == 0 {
		c.Backoff.MaxDelay = models.Duration(defaultBackoffMax)
	}

	if c.Backoff.MaxAttempts < 0 {
		return errBackoffAttemptsZero
	}

	if c.Backoff.MaxAttempts == 0 {
		c.Backoff.MaxAttempts = defaultBackoffAttempts
	}

	if c.Backoff.BaseDelay > c.Backoff.MaxDelay {
		return errBackoffBaseExceeds
	}

	return nil
}
