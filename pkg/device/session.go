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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/recsync/recsync/pkg/events"
	"github.com/recsync/recsync/pkg/models"
	"github.com/recsync/recsync/pkg/timesync"
	"github.com/recsync/recsync/pkg/wire"
)

// errOrderlyDisconnect marks a device-initiated shutdown, which ends the
// session without a retry loop.
var errOrderlyDisconnect = errors.New("device requested disconnect")

// session is the per-device runtime. One goroutine owns the connect/retry
// loop; the record itself is guarded by the manager's lock.
type session struct {
	record *models.DeviceRecord
	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.RWMutex
	conn   wire.MessageConn

	pendingMu sync.Mutex
	pending   map[string]chan *wire.Message

	finalMu  sync.Mutex
	finalErr error

	healthMu sync.Mutex
	healthy  bool
	checked  bool

	// inbound is a pre-established transport consumed by the first
	// connect attempt (device dialed us).
	inbound wire.MessageConn
}

func (s *session) getConn() wire.MessageConn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	return s.conn
}

func (s *session) setConn(conn wire.MessageConn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *session) takeInbound() wire.MessageConn {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	conn := s.inbound
	s.inbound = nil

	return conn
}

// setFinal records why the session is being torn down; the retry loop
// reads it to distinguish detach from connection loss.
func (s *session) setFinal(err error) {
	s.finalMu.Lock()
	if s.finalErr == nil {
		s.finalErr = err
	}
	s.finalMu.Unlock()
}

func (s *session) final() error {
	s.finalMu.Lock()
	defer s.finalMu.Unlock()

	return s.finalErr
}

func (s *session) registerPending(messageID string) chan *wire.Message {
	ch := make(chan *wire.Message, 1)

	s.pendingMu.Lock()
	s.pending[messageID] = ch
	s.pendingMu.Unlock()

	return ch
}

func (s *session) dropPending(messageID string) {
	s.pendingMu.Lock()
	delete(s.pending, messageID)
	s.pendingMu.Unlock()
}

func (s *session) resolvePending(relatedID string, msg *wire.Message) bool {
	s.pendingMu.Lock()
	ch, ok := s.pending[relatedID]
	if ok {
		delete(s.pending, relatedID)
	}
	s.pendingMu.Unlock()

	if ok {
		ch <- msg
	}

	return ok
}

// runDevice is the session goroutine: connect, serve, retry with backoff on
// retryable failure, stop on terminal failure or detach.
func (m *Manager) runDevice(ctx context.Context, s *session) {
	attempt := 0

	for {
		attempt++

		m.transition(s, models.StateConnecting, nil)

		conn, err := m.connect(ctx, s)
		if err != nil {
			if fin := s.final(); fin != nil {
				m.releaseSession(s, models.StateDisconnected, fin)
				return
			}

			if ctx.Err() != nil {
				m.releaseSession(s, models.StateDisconnected, nil)
				return
			}

			if !retryable(err) || attempt >= m.config.Backoff.MaxAttempts {
				m.logger.Error().Err(err).
					Str("device_id", s.record.DeviceID).
					Int("attempts", attempt).
					Msg("Giving up on device connection")
				m.releaseSession(s, models.StateFailed, err)

				return
			}

			m.transition(s, models.StateFailed, err)

			delay := m.config.Backoff.Delay(attempt)
			m.logger.Warn().Err(err).
				Str("device_id", s.record.DeviceID).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Device connection failed, backing off")

			if !m.sleep(ctx, delay) {
				m.releaseSession(s, models.StateDisconnected, nil)
				return
			}

			continue
		}

		attempt = 0

		s.setConn(conn)
		m.transition(s, models.StateConnected, nil)

		if m.clocks != nil {
			m.clocks.Track(ctx, s.record.DeviceID)
		}

		err = m.serve(ctx, s, conn)

		if m.clocks != nil {
			m.clocks.Untrack(s.record.DeviceID)
		}

		s.setConn(nil)
		_ = conn.Close()

		switch {
		case s.final() != nil:
			m.releaseSession(s, models.StateDisconnected, s.final())
			return
		case ctx.Err() != nil:
			m.releaseSession(s, models.StateDisconnected, nil)
			return
		case errors.Is(err, errOrderlyDisconnect):
			m.releaseSession(s, models.StateDisconnected, err)
			return
		case !retryable(err):
			m.releaseSession(s, models.StateFailed, err)
			return
		default:
			m.logger.Warn().Err(err).
				Str("device_id", s.record.DeviceID).
				Msg("Device connection lost, reconnecting")
		}
	}
}

// sleep waits out a backoff delay, returning false on cancellation.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	ticker := m.clock.Ticker(d)
	defer ticker.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-ticker.Chan():
		return true
	}
}

// connect produces a live, handshaked transport. Inbound sessions already
// completed the handshake in AttachConn.
func (m *Manager) connect(ctx context.Context, s *session) (wire.MessageConn, error) {
	if conn := s.takeInbound(); conn != nil {
		return conn, nil
	}

	if m.dialer == nil {
		return nil, fmt.Errorf("%w: no dialer configured for outbound device %s",
			ErrUserCancelled, s.record.DeviceID)
	}

	m.mu.RLock()
	rec := *s.record
	m.mu.RUnlock()

	dialCtx, cancelDial := context.WithTimeout(ctx, time.Duration(m.config.DialTimeout))
	defer cancelDial()

	conn, err := m.dialer.Dial(dialCtx, &rec)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rec.Address, err)
	}

	if err := m.handshake(ctx, s, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// handshake runs the coordinator side of the opening exchange on an
// outbound connection: offer our version, verify the device's reply.
func (m *Manager) handshake(ctx context.Context, s *session, conn wire.MessageConn) error {
	offer, err := wire.New(wire.TypeHandshake, wire.HandshakePayload{
		DeviceName: "coordinator",
		Version:    wire.ProtocolVersion,
	})
	if err != nil {
		return err
	}

	hsCtx, cancelHS := context.WithTimeout(ctx, time.Duration(m.config.AckTimeout))
	defer cancelHS()

	if err := conn.WriteMessage(hsCtx, offer); err != nil {
		return fmt.Errorf("handshake send: %w", err)
	}

	reply, err := conn.ReadMessage(hsCtx)
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}

	if reply.Type != wire.TypeHandshake {
		return fmt.Errorf("%w: got %s", errHandshakeExpected, reply.Type)
	}

	var hs wire.HandshakePayload
	if err := reply.DecodePayload(&hs); err != nil {
		return err
	}

	if !versionCompatible(hs.Version) {
		return fmt.Errorf("%w: device %q offers %s, coordinator speaks %s",
			ErrVersionMismatch, hs.DeviceName, hs.Version, wire.ProtocolVersion)
	}

	m.mu.Lock()
	s.record.Capabilities = hs.Capabilities
	m.mu.Unlock()

	return nil
}

// acceptHandshake runs the coordinator side for an inbound connection: the
// device speaks first.
func (m *Manager) acceptHandshake(ctx context.Context, conn wire.MessageConn) (*wire.HandshakePayload, error) {
	hsCtx, cancelHS := context.WithTimeout(ctx, time.Duration(m.config.AckTimeout))
	defer cancelHS()

	first, err := conn.ReadMessage(hsCtx)
	if err != nil {
		return nil, fmt.Errorf("handshake read: %w", err)
	}

	if first.Type != wire.TypeHandshake {
		return nil, fmt.Errorf("%w: got %s", errHandshakeExpected, first.Type)
	}

	var hs wire.HandshakePayload
	if err := first.DecodePayload(&hs); err != nil {
		return nil, err
	}

	if !versionCompatible(hs.Version) {
		return nil, fmt.Errorf("%w: device %q offers %s, coordinator speaks %s",
			ErrVersionMismatch, hs.DeviceName, hs.Version, wire.ProtocolVersion)
	}

	reply, err := wire.New(wire.TypeHandshake, wire.HandshakePayload{
		DeviceName: "coordinator",
		Version:    wire.ProtocolVersion,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.WriteMessage(hsCtx, reply); err != nil {
		return nil, fmt.Errorf("handshake send: %w", err)
	}

	return &hs, nil
}

// versionCompatible accepts any version sharing our major component.
func versionCompatible(v string) bool {
	ourMajor, _, _ := strings.Cut(wire.ProtocolVersion, ".")
	theirMajor, _, _ := strings.Cut(v, ".")

	return theirMajor == ourMajor && theirMajor != ""
}

// serve pumps the read loop and the periodic health check until the
// connection dies or the session is cancelled.
func (m *Manager) serve(ctx context.Context, s *session, conn wire.MessageConn) error {
	readErr := make(chan error, 1)

	go func() {
		readErr <- m.readLoop(ctx, s, conn)
	}()

	health := m.clock.Ticker(time.Duration(m.config.HealthCheckInterval))
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-health.Chan():
			m.checkHealth(s)
		}
	}
}

// readLoop processes the device's message stream in receipt order.
func (m *Manager) readLoop(ctx context.Context, s *session, conn wire.MessageConn) error {
	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			// An idle read deadline is not connection loss. Liveness is
			// judged by heartbeat age in checkHealth, so a silent device
			// stays connected until that verdict says otherwise.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
				continue
			}

			return err
		}

		if err := m.dispatch(ctx, s, conn, msg); err != nil {
			return err
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, s *session, conn wire.MessageConn, msg *wire.Message) error {
	now := m.clock.Now()

	switch msg.Type {
	case wire.TypeHeartbeat:
		m.mu.Lock()
		s.record.LastHeartbeat = now
		s.record.LastSeen = now
		m.mu.Unlock()

	case wire.TypeAcknowledgment:
		var ack wire.AckPayload
		if err := msg.DecodePayload(&ack); err != nil {
			m.logger.Warn().Err(err).Str("device_id", s.record.DeviceID).Msg("Ignoring malformed acknowledgment")
			return nil
		}

		if !s.resolvePending(ack.RelatedID, msg) {
			m.logger.Debug().
				Str("device_id", s.record.DeviceID).
				Str("related_id", ack.RelatedID).
				Msg("Acknowledgment for unknown message")
		}

	case wire.TypeFrame:
		m.mu.Lock()
		s.record.LastSeen = now
		streaming := s.record.State == models.StateStreaming
		m.mu.Unlock()

		if !streaming {
			m.transition(s, models.StateStreaming, nil)
		}

	case wire.TypeStatus:
		var status wire.StatusPayload
		if err := msg.DecodePayload(&status); err != nil {
			return nil
		}

		m.handleStatus(s, &status)

	case wire.TypeError:
		var devErr wire.ErrorPayload
		if err := msg.DecodePayload(&devErr); err != nil {
			return nil
		}

		m.mu.Lock()
		s.record.LastError = fmt.Sprintf("%s: %s", devErr.Code, devErr.Message)
		m.mu.Unlock()

		m.logger.Warn().
			Str("device_id", s.record.DeviceID).
			Str("code", devErr.Code).
			Str("severity", string(devErr.Severity)).
			Msg(devErr.Message)

		if devErr.Severity == wire.SeverityFatal {
			return fmt.Errorf("device reported fatal error %s: %s", devErr.Code, devErr.Message)
		}

	case wire.TypeCapabilityNegotiation:
		var caps wire.CapabilityPayload
		if err := msg.DecodePayload(&caps); err != nil {
			return nil
		}

		m.mu.Lock()
		s.record.Capabilities = caps.Capabilities
		m.mu.Unlock()

		reply, err := wire.New(wire.TypeCapabilityResponse, wire.CapabilityPayload{
			Capabilities: coordinatorCapabilities,
		})
		if err != nil {
			return err
		}

		return conn.WriteMessage(ctx, reply)

	case wire.TypeDisconnect:
		var bye wire.DisconnectPayload
		_ = msg.DecodePayload(&bye)

		return fmt.Errorf("%w: %s", errOrderlyDisconnect, bye.Reason)

	default:
		m.logger.Debug().
			Str("device_id", s.record.DeviceID).
			Str("type", string(msg.Type)).
			Msg("Ignoring unexpected message type")
	}

	return nil
}

// coordinatorCapabilities is what we answer capability negotiation with.
var coordinatorCapabilities = []string{"time_probe", "calibration", "frame_ingest"}

func (m *Manager) handleStatus(s *session, status *wire.StatusPayload) {
	switch status.State {
	case "idle":
		m.transition(s, models.StateIdle, nil)
	case "streaming", "recording":
		m.transition(s, models.StateStreaming, nil)
	}

	if status.Message != "" {
		m.publish(events.StatusText, s.record.DeviceID, status.Message)
	}
}

// checkHealth evaluates the two-part health signal and emits an event on a
// flip. Unhealthy devices stay connected unless configured otherwise.
func (m *Manager) checkHealth(s *session) {
	healthy := m.Healthy(s.record.DeviceID)

	s.healthMu.Lock()
	flipped := s.checked && healthy != s.healthy
	first := !s.checked
	s.healthy = healthy
	s.checked = true
	s.healthMu.Unlock()

	if !flipped && !(first && !healthy) {
		return
	}

	state := "healthy"
	if !healthy {
		state = "unhealthy"
	}

	m.logger.Info().
		Str("device_id", s.record.DeviceID).
		Str("health", state).
		Msg("Device health changed")

	m.publish(events.DeviceHealth, s.record.DeviceID, state)

	if !healthy && m.config.DisconnectUnhealthy {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()

			_ = m.Detach(ctx, s.record.DeviceID)
		}()
	}
}

// SendCommand sends a command to a connected device. With requireAck the
// call blocks until the acknowledgment arrives or the ack timeout expires.
func (m *Manager) SendCommand(
	ctx context.Context,
	deviceID, command string,
	params json.RawMessage,
	requireAck bool,
) (*wire.AckPayload, error) {
	m.mu.RLock()
	s, ok := m.sessions[deviceID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrUnknownDevice
	}

	conn := s.getConn()
	if conn == nil {
		return nil, ErrNotConnected
	}

	msg, err := wire.New(wire.TypeCommand, wire.CommandPayload{
		Command:    command,
		RequireAck: requireAck,
		Params:     params,
	})
	if err != nil {
		return nil, err
	}

	var ackCh chan *wire.Message

	if requireAck {
		ackCh = s.registerPending(msg.MessageID)
		defer s.dropPending(msg.MessageID)
	}

	if err := conn.WriteMessage(ctx, msg); err != nil {
		return nil, err
	}

	if !requireAck {
		return nil, nil
	}

	ackCtx, cancelAck := context.WithTimeout(ctx, time.Duration(m.config.AckTimeout))
	defer cancelAck()

	select {
	case <-ackCtx.Done():
		return nil, fmt.Errorf("%w: command %s to %s", ErrAckTimeout, command, deviceID)
	case reply := <-ackCh:
		var ack wire.AckPayload
		if err := reply.DecodePayload(&ack); err != nil {
			return nil, err
		}

		return &ack, nil
	}
}

// Probe implements the synchronizer's round-trip contract: a time_probe
// command whose acknowledgment carries the device's receive and send clocks.
func (m *Manager) Probe(ctx context.Context, deviceID string) (timesync.ProbeSample, error) {
	coordSend := m.clock.Now()

	ack, err := m.SendCommand(ctx, deviceID, "time_probe", nil, true)
	if err != nil {
		return timesync.ProbeSample{}, err
	}

	coordRecv := m.clock.Now()

	var echo wire.TimeProbePayload
	if err := json.Unmarshal(ack.Data, &echo); err != nil {
		return timesync.ProbeSample{}, fmt.Errorf("time_probe echo: %w", err)
	}

	return timesync.ProbeSample{
		CoordSend:  coordSend,
		CoordRecv:  coordRecv,
		DeviceRecv: echo.DeviceRecv,
		DeviceSend: echo.DeviceSend,
	}, nil
}
