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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recsync/recsync/pkg/logger"
	"github.com/recsync/recsync/pkg/models"
)

type testConfig struct {
	ListenAddr string          `json:"listen_addr"`
	MaxDevices int             `json:"max_devices"`
	Timeout    models.Duration `json:"timeout"`
	Debug      bool            `json:"debug"`
	Tags       []string        `json:"tags"`
	Devices    nestedConfig    `json:"devices"`

	validateErr error
}

type nestedConfig struct {
	HeartbeatTimeout models.Duration `json:"heartbeat_timeout"`
	Priority         int             `json:"priority"`
}

func (c *testConfig) Validate() error {
	return c.validateErr
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestFileLoaderRoundTrip(t *testing.T) {
	path := writeConfigFile(t, `{
		"listen_addr": "0.0.0.0:7600",
		"max_devices": 4,
		"timeout": "15s",
		"debug": true,
		"tags": ["lab", "thermal"],
		"devices": {"heartbeat_timeout": "30s", "priority": 2}
	}`)

	var cfg testConfig

	loader := &FileConfigLoader{}
	require.NoError(t, loader.Load(context.Background(), path, &cfg))

	assert.Equal(t, "0.0.0.0:7600", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.MaxDevices)
	assert.Equal(t, 15*time.Second, time.Duration(cfg.Timeout))
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"lab", "thermal"}, cfg.Tags)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Devices.HeartbeatTimeout))
	assert.Equal(t, 2, cfg.Devices.Priority)
}

func TestFileLoaderMissingFile(t *testing.T) {
	var cfg testConfig

	loader := &FileConfigLoader{}
	err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "absent.json"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestFileLoaderMalformedJSON(t *testing.T) {
	path := writeConfigFile(t, `{"listen_addr": `)

	var cfg testConfig

	loader := &FileConfigLoader{}
	err := loader.Load(context.Background(), path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEnvLoaderConfigJSON(t *testing.T) {
	t.Setenv("RECSYNC_CONFIG_JSON", `{"listen_addr": "127.0.0.1:7600", "timeout": "5s"}`)

	var cfg testConfig

	loader := NewEnvConfigLoader(logger.NewTestLogger(), "RECSYNC_")
	require.NoError(t, loader.Load(context.Background(), "", &cfg))

	assert.Equal(t, "127.0.0.1:7600", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Timeout))
}

func TestEnvLoaderPerFieldVars(t *testing.T) {
	t.Setenv("RECSYNC_LISTEN_ADDR", "10.0.0.5:7600")
	t.Setenv("RECSYNC_MAX_DEVICES", "2")
	t.Setenv("RECSYNC_TIMEOUT", "45s")
	t.Setenv("RECSYNC_DEBUG", "true")
	t.Setenv("RECSYNC_TAGS", "lab, thermal")
	t.Setenv("RECSYNC_DEVICES_HEARTBEAT_TIMEOUT", "1m")

	var cfg testConfig

	loader := NewEnvConfigLoader(logger.NewTestLogger(), "RECSYNC_")
	require.NoError(t, loader.Load(context.Background(), "", &cfg))

	assert.Equal(t, "10.0.0.5:7600", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.MaxDevices)
	assert.Equal(t, 45*time.Second, time.Duration(cfg.Timeout))
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"lab", "thermal"}, cfg.Tags)
	assert.Equal(t, time.Minute, time.Duration(cfg.Devices.HeartbeatTimeout))
}

func TestEnvLoaderRejectsNonPointer(t *testing.T) {
	loader := NewEnvConfigLoader(logger.NewTestLogger(), "RECSYNC_")

	require.ErrorIs(t, loader.Load(context.Background(), "", testConfig{}), ErrDstMustBeNonNilPointer)

	var s string
	require.ErrorIs(t, loader.Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	path := writeConfigFile(t, `{"listen_addr": "0.0.0.0:7600"}`)

	cfg := &testConfig{validateErr: errors.New("listen_addr conflicts")}

	err := NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr conflicts")
}

func TestLoadAndValidateSelectsEnvSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("RECSYNC_CONFIG_JSON", `{"listen_addr": "127.0.0.1:7600"}`)

	var cfg testConfig

	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))
	assert.Equal(t, "127.0.0.1:7600", cfg.ListenAddr)
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "consul")

	var cfg testConfig

	err := NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestValidateConfigSkipsNonValidators(t *testing.T) {
	type plain struct{ Name string }

	require.NoError(t, ValidateConfig(&plain{Name: "x"}))
}
