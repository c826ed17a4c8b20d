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
	"fmt"

	"github.com/recsync/recsync/pkg/calibration"
	"github.com/recsync/recsync/pkg/device"
	"github.com/recsync/recsync/pkg/kv"
	"github.com/recsync/recsync/pkg/logger"
	"github.com/recsync/recsync/pkg/quality"
	"github.com/recsync/recsync/pkg/timesync"
)

const (
	// StoreFile persists to the local append-then-compact file store.
	StoreFile = "file"
	// StoreNats persists to a NATS JetStream key-value bucket.
	StoreNats = "nats"
)

var (
	errListenAddrRequired  = fmt.Errorf("listen_addr is required")
	errStoreDirRequired    = fmt.Errorf("store dir is required for the file backend")
	errUnknownStoreBackend = fmt.Errorf("store backend must be %q or %q", StoreFile, StoreNats)
	errTLSIncomplete       = fmt.Errorf("tls requires both cert_file and key_file")
)

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	Backend string        `json:"backend"`
	Dir     string        `json:"dir,omitempty"`
	Nats    kv.NatsConfig `json:"nats,omitempty"`
}

// TLSConfig enables TLS on the device listener.
type TLSConfig struct {
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Config is the coordinator's full configuration surface. Every section is
// validated at startup; invalid configuration is a fatal startup error.
type Config struct {
	ListenAddr  string             `json:"listen_addr"`
	TLS         TLSConfig          `json:"tls,omitempty"`
	Store       StoreConfig        `json:"store"`
	Devices     device.Config      `json:"devices"`
	Timesync    timesync.Config    `json:"timesync"`
	Calibration calibration.Config `json:"calibration"`
	Quality     quality.Config     `json:"quality"`
	Logging     *logger.Config     `json:"logging,omitempty"`
}

// Validate implements config.Validator, delegating to each section.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errListenAddrRequired
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errTLSIncomplete
	}

	switch c.Store.Backend {
	case "", StoreFile:
		c.Store.Backend = StoreFile
		if c.Store.Dir == "" {
			return errStoreDirRequired
		}
	case StoreNats:
		if err := c.Store.Nats.Validate(); err != nil {
			return err
		}
	default:
		return errUnknownStoreBackend
	}

	if err := c.Devices.Validate(); err != nil {
		return fmt.Errorf("devices: %w", err)
	}

	if err := c.Timesync.Validate(); err != nil {
		return fmt.Errorf("timesync: %w", err)
	}

	if err := c.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("quality: %w", err)
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	return nil
}
