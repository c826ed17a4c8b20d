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

// Package coordinator assembles the recording synchronization service: the
// device listener, connection manager, clock synchronizer, and calibration
// controller wired over one persistence store and event bus.
package coordinator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/recsync/recsync/pkg/calibration"
	"github.com/recsync/recsync/pkg/device"
	"github.com/recsync/recsync/pkg/events"
	"github.com/recsync/recsync/pkg/kv"
	"github.com/recsync/recsync/pkg/lifecycle"
	"github.com/recsync/recsync/pkg/logger"
	"github.com/recsync/recsync/pkg/models"
	"github.com/recsync/recsync/pkg/quality"
	"github.com/recsync/recsync/pkg/timesync"
	"github.com/recsync/recsync/pkg/wire"
	"github.com/recsync/recsync/pkg/wire/wstransport"
)

const attachTimeout = 15 * time.Second

// Coordinator is the composed service. It implements lifecycle.Service.
type Coordinator struct {
	config *Config
	logger logger.Logger

	store        kv.Store
	bus          *events.Bus
	synchronizer *timesync.Synchronizer
	manager      *device.Manager
	controller   *calibration.Controller

	listener *wire.Listener
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds the full component graph from a validated config.
func New(ctx context.Context, cfg *Config, log logger.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(log)

	engine, err := quality.NewEngine(&cfg.Quality)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	dialer, err := newDialer(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	manager, err := device.NewManager(&cfg.Devices, dialer, store, bus, nil, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	synchronizer, err := timesync.New(&cfg.Timesync, manager, nil, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	manager.SetClockSource(synchronizer)

	synchronizer.OnInvalidate(func(deviceID string) {
		bus.Publish(events.Event{
			Type:      events.ClockInvalidated,
			DeviceID:  deviceID,
			Message:   "clock offset estimate invalidated",
			Timestamp: time.Now(),
		})
		manager.RefreshHealth(deviceID)
	})

	capturer := &deviceCapturer{
		manager: manager,
		clocks:  synchronizer,
		fairMax: time.Duration(cfg.Timesync.Bands.FairMax),
	}

	controller, err := calibration.NewController(
		&cfg.Calibration, engine, capturer, manager, store, bus, nil, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Coordinator{
		config:       cfg,
		logger:       log,
		store:        store,
		bus:          bus,
		synchronizer: synchronizer,
		manager:      manager,
		controller:   controller,
	}, nil
}

func openStore(ctx context.Context, cfg *Config, log logger.Logger) (kv.Store, error) {
	switch cfg.Store.Backend {
	case StoreNats:
		return kv.NewNatsStore(ctx, &cfg.Store.Nats)
	default:
		return kv.NewFileStore(cfg.Store.Dir, log)
	}
}

func newDialer(cfg *Config) (device.Dialer, error) {
	var tlsConfig *tls.Config

	if cfg.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}

		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return &transportDialer{tlsConfig: tlsConfig}, nil
}

// transportDialer picks the transport from the device record: framed TCP by
// default, WebSocket for records declaring it.
type transportDialer struct {
	tlsConfig *tls.Config
}

func (d *transportDialer) Dial(ctx context.Context, rec *models.DeviceRecord) (wire.MessageConn, error) {
	if rec.Transport == models.TransportWebSocket {
		return wstransport.Dial(ctx, rec.Address)
	}

	return wire.Dial(ctx, rec.Address, d.tlsConfig)
}

// Start implements lifecycle.Service: reconnect persisted devices, restore
// any interrupted calibration session, and accept inbound devices.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device manager: %w", err)
	}

	restored, err := c.controller.Restore(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Could not restore calibration session")
	} else if restored {
		c.logger.Info().Msg("Calibration session restored from store")
	}

	tlsConfig, err := c.listenerTLS()
	if err != nil {
		return err
	}

	listener, err := wire.Listen(c.config.ListenAddr, tlsConfig)
	if err != nil {
		return err
	}

	c.listener = listener

	c.logger.Info().
		Str("listen_addr", listener.Addr()).
		Bool("tls", tlsConfig != nil).
		Msg("Coordinator listening for devices")

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		c.acceptLoop(ctx)
	}()

	return nil
}

func (c *Coordinator) listenerTLS() (*tls.Config, error) {
	if c.config.TLS.CertFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.config.TLS.CertFile, c.config.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (c *Coordinator) acceptLoop(ctx context.Context) {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			c.logger.Info().Err(err).Msg("Listener closed")

			return
		}

		c.wg.Add(1)

		go func() {
			defer c.wg.Done()

			attachCtx, cancel := context.WithTimeout(ctx, attachTimeout)
			defer cancel()

			if err := c.manager.AttachConn(attachCtx, conn); err != nil {
				c.logger.Warn().Err(err).
					Str("remote_addr", conn.RemoteAddr()).
					Msg("Rejected inbound device connection")
			}
		}()
	}
}

// Stop implements lifecycle.Service.
func (c *Coordinator) Stop(ctx context.Context) error {
	var err error

	c.stopOnce.Do(func() {
		if c.listener != nil {
			_ = c.listener.Close()
		}

		c.synchronizer.Stop()
		c.manager.Stop()

		done := make(chan struct{})

		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		if closeErr := c.store.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})

	return err
}

// Events exposes the bus for UI collaborators; the core never renders UI.
func (c *Coordinator) Events() *events.Bus { return c.bus }

// Devices exposes the connection manager.
func (c *Coordinator) Devices() *device.Manager { return c.manager }

// Clocks exposes the synchronizer's read-only estimates.
func (c *Coordinator) Clocks() *timesync.Synchronizer { return c.synchronizer }

// Calibration exposes the session controller.
func (c *Coordinator) Calibration() *calibration.Controller { return c.controller }

var _ lifecycle.Service = (*Coordinator)(nil)
