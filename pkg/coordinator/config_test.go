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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recsync/recsync/pkg/quality"
)

func validConfig(t *testing.T) *Config {
	t.Helper()

	return &Config{
		ListenAddr: "0.0.0.0:7600",
		Store:      StoreConfig{Backend: StoreFile, Dir: t.TempDir()},
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())

	// Section defaults are filled in by the delegated validators.
	assert.Equal(t, 4, cfg.Devices.MaxDevices)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Devices.HeartbeatTimeout))
	assert.Equal(t, quality.DefaultWeights(), cfg.Quality.Weights)
	assert.NotNil(t, cfg.Logging)
	assert.Equal(t, StoreFile, cfg.Store.Backend)
}

func TestConfigValidateRequiresListenAddr(t *testing.T) {
	cfg := validConfig(t)
	cfg.ListenAddr = ""

	require.ErrorIs(t, cfg.Validate(), errListenAddrRequired)
}

func TestConfigValidateFileBackendNeedsDir(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store = StoreConfig{Backend: ""}

	require.ErrorIs(t, cfg.Validate(), errStoreDirRequired)
}

func TestConfigValidateUnknownBackend(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store.Backend = "postgres"

	require.ErrorIs(t, cfg.Validate(), errUnknownStoreBackend)
}

func TestConfigValidateNatsBackend(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store = StoreConfig{Backend: StoreNats}

	// Backend selection surfaces the nats section's own validation.
	require.Error(t, cfg.Validate())

	cfg.Store.Nats.URL = "nats://127.0.0.1:4222"
	cfg.Store.Nats.Bucket = "recsync"
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateTLSBothOrNeither(t *testing.T) {
	cfg := validConfig(t)
	cfg.TLS.CertFile = "/etc/recsync/cert.pem"

	require.ErrorIs(t, cfg.Validate(), errTLSIncomplete)

	cfg.TLS.KeyFile = "/etc/recsync/key.pem"
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateWrapsSectionErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Devices.MaxDevices = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "devices:")
}

func TestConfigValidateRejectsBadWeights(t *testing.T) {
	cfg := validConfig(t)
	cfg.Quality.Weights = quality.Weights{Sync: 0.5, Visual: 0.4}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality:")
}
