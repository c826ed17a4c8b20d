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

// Package device manages the fleet of recording device connections: attach,
// retry with backoff, heartbeat health, and persisted device records.
package device

//go:generate mockgen -destination=mock_device.go -package=device github.com/recsync/recsync/pkg/device Dialer,ClockSource

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/recsync/recsync/pkg/events"
	"github.com/recsync/recsync/pkg/kv"
	"github.com/recsync/recsync/pkg/logger"
	"github.com/recsync/recsync/pkg/models"
	"github.com/recsync/recsync/pkg/timesync"
	"github.com/recsync/recsync/pkg/wire"
)

// recordKeyPrefix namespaces device records in the persistence store.
const recordKeyPrefix = "devices."

const persistTimeout = 5 * time.Second

// Dialer establishes an outbound transport to a device.
type Dialer interface {
	Dial(ctx context.Context, record *models.DeviceRecord) (wire.MessageConn, error)
}

// ClockSource is the synchronizer surface the manager depends on: per
// device tracking lifecycle plus the validity half of the health check.
type ClockSource interface {
	Track(ctx context.Context, deviceID string)
	Untrack(deviceID string)
	Valid(deviceID string) bool
}

// Descriptor identifies a device to attach.
type Descriptor struct {
	Name          string               `json:"name"`
	Address       string               `json:"address"`
	Transport     models.TransportType `json:"transport"`
	Priority      int                  `json:"priority"`
	AutoReconnect bool                 `json:"auto_reconnect"`
}

// Manager owns every device connection. It is constructed explicitly and
// passed by reference; there is no package-level instance.
type Manager struct {
	config *Config
	dialer Dialer
	store  kv.Store
	bus    *events.Bus
	clock  timesync.Clock
	logger logger.Logger

	clocks ClockSource

	mu       sync.RWMutex
	sessions map[string]*session
	waiting  []*models.DeviceRecord
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds a manager. A nil clock defaults to the real clock; the
// clock source is wired afterwards via SetClockSource since the synchronizer
// in turn probes through the manager.
func NewManager(
	cfg *Config,
	dialer Dialer,
	store kv.Store,
	bus *events.Bus,
	clock timesync.Clock,
	log logger.Logger,
) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = timesync.RealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:   cfg,
		dialer:   dialer,
		store:    store,
		bus:      bus,
		clock:    clock,
		logger:   log,
		sessions: make(map[string]*session),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetClockSource wires the synchronizer in. Must be called before Start.
func (m *Manager) SetClockSource(cs ClockSource) {
	m.clocks = cs
}

// Start loads persisted device records, marks stale ones, and kicks off
// auto-reconnect for eligible devices in priority order.
func (m *Manager) Start(ctx context.Context) error {
	records, err := m.loadRecords(ctx)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	retention := time.Duration(m.config.RetentionWindow)

	reconnect := make([]*models.DeviceRecord, 0, len(records))

	for _, rec := range records {
		if !rec.Stale && now.Sub(rec.LastSeen) > retention {
			rec.Stale = true
			m.persist(rec)
		}

		if rec.AutoReconnect && rec.ConnectCount > 0 && !rec.Stale {
			reconnect = append(reconnect, rec)
		}
	}

	sort.Slice(reconnect, func(i, j int) bool {
		return reconnect[i].Priority > reconnect[j].Priority
	})

	for _, rec := range reconnect {
		m.logger.Info().
			Str("device_id", rec.DeviceID).
			Int("priority", rec.Priority).
			Msg("Auto-reconnecting previously connected device")

		if err := m.attachRecord(rec, nil); err != nil {
			m.logger.Warn().Err(err).Str("device_id", rec.DeviceID).Msg("Auto-reconnect attach failed")
		}
	}

	return nil
}

// Stop detaches everything and waits for session goroutines to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.closed = true
	m.waiting = nil
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// Attach registers a device and starts its connection loop. Attaching an
// already attached key without an intervening detach is a no-op.
func (m *Manager) Attach(ctx context.Context, desc Descriptor) error {
	key := models.DeviceKey(desc.Address, desc.Name)

	rec, err := m.loadOrCreateRecord(ctx, key, desc)
	if err != nil {
		return err
	}

	return m.attachRecord(rec, nil)
}

// AttachConn adopts an inbound, already established transport. The first
// message must be the device's handshake.
func (m *Manager) AttachConn(ctx context.Context, conn wire.MessageConn) error {
	hs, err := m.acceptHandshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	transport := models.TransportType(hs.Transport)
	if transport == "" {
		transport = models.TransportTCP
	}

	desc := Descriptor{
		Name:      hs.DeviceName,
		Address:   conn.RemoteAddr(),
		Transport: transport,
	}

	key := models.DeviceKey(desc.Address, desc.Name)

	rec, err := m.loadOrCreateRecord(ctx, key, desc)
	if err != nil {
		_ = conn.Close()
		return err
	}

	rec.Capabilities = hs.Capabilities

	if err := m.attachRecord(rec, conn); err != nil {
		_ = conn.Close()
		return err
	}

	return nil
}

// attachRecord starts (or queues) a session for the record. An inbound conn,
// when present, is consumed by the first connect attempt.
func (m *Manager) attachRecord(rec *models.DeviceRecord, inbound wire.MessageConn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	if _, ok := m.sessions[rec.DeviceID]; ok {
		m.logger.Debug().Str("device_id", rec.DeviceID).Msg("Device already attached, ignoring")
		return nil
	}

	for _, w := range m.waiting {
		if w.DeviceID == rec.DeviceID {
			return nil
		}
	}

	if len(m.sessions) >= m.config.MaxDevices {
		if m.config.AllowPreemption {
			if victim := m.preemptLocked(rec.Priority); victim != nil {
				m.logger.Info().
					Str("device_id", victim.record.DeviceID).
					Str("replaced_by", rec.DeviceID).
					Msg("Preempting lowest-priority device")

				m.startSessionLocked(rec, inbound)

				return nil
			}
		}

		m.logger.Info().
			Str("device_id", rec.DeviceID).
			Int("max_devices", m.config.MaxDevices).
			Msg("Device cap reached, queueing attach by priority")

		m.waiting = append(m.waiting, rec)
		sort.SliceStable(m.waiting, func(i, j int) bool {
			return m.waiting[i].Priority > m.waiting[j].Priority
		})

		return nil
	}

	m.startSessionLocked(rec, inbound)

	return nil
}

// preemptLocked cancels the lowest-priority session strictly below the
// incoming priority and returns it, or nil when nothing qualifies.
func (m *Manager) preemptLocked(incoming int) *session {
	var victim *session

	for _, s := range m.sessions {
		if victim == nil || s.record.Priority < victim.record.Priority {
			victim = s
		}
	}

	if victim == nil || victim.record.Priority >= incoming {
		return nil
	}

	victim.setFinal(ErrUserCancelled)
	victim.cancel()
	delete(m.sessions, victim.record.DeviceID)

	return victim
}

func (m *Manager) startSessionLocked(rec *models.DeviceRecord, inbound wire.MessageConn) {
	ctx, cancel := context.WithCancel(m.ctx)

	s := &session{
		record:  rec,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]chan *wire.Message),
		inbound: inbound,
	}

	m.sessions[rec.DeviceID] = s

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		m.runDevice(ctx, s)
	}()

	m.publish(events.DeviceAttached, rec.DeviceID, "")
}

// Detach cancels the device's session, performs a final persistence write,
// and releases its slot. Queued (not yet connected) devices are dropped
// from the wait list.
func (m *Manager) Detach(ctx context.Context, deviceID string) error {
	m.mu.Lock()

	for i, w := range m.waiting {
		if w.DeviceID == deviceID {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			m.mu.Unlock()

			return nil
		}
	}

	s, ok := m.sessions[deviceID]
	m.mu.Unlock()

	if !ok {
		return ErrUnknownDevice
	}

	s.setFinal(ErrUserCancelled)

	if conn := s.getConn(); conn != nil {
		msg, err := wire.New(wire.TypeDisconnect, wire.DisconnectPayload{Reason: "detached by coordinator"})
		if err == nil {
			sendCtx, cancelSend := context.WithTimeout(ctx, time.Second)
			_ = conn.WriteMessage(sendCtx, msg)
			cancelSend()
		}
	}

	s.cancel()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// GetConnected snapshots every record currently in a connected state.
func (m *Manager) GetConnected() []models.DeviceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.DeviceRecord, 0, len(m.sessions))

	for _, s := range m.sessions {
		if connectedState(s.record.State) {
			out = append(out, *s.record)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	return out
}

// IsConnected reports whether the device currently holds a live connection.
func (m *Manager) IsConnected(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[deviceID]

	return ok && connectedState(s.record.State)
}

// Record returns a copy of the device's record, attached or not.
func (m *Manager) Record(ctx context.Context, deviceID string) (models.DeviceRecord, bool) {
	m.mu.RLock()

	if s, ok := m.sessions[deviceID]; ok {
		rec := *s.record
		m.mu.RUnlock()

		return rec, true
	}

	m.mu.RUnlock()

	data, found, err := m.store.Get(ctx, recordKeyPrefix+deviceID)
	if err != nil || !found {
		return models.DeviceRecord{}, false
	}

	var rec models.DeviceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.DeviceRecord{}, false
	}

	return rec, true
}

// Healthy reports the two-part health signal: recent heartbeat AND a valid
// clock offset estimate. Exposed independently of connection state.
func (m *Manager) Healthy(deviceID string) bool {
	m.mu.RLock()
	s, ok := m.sessions[deviceID]

	if !ok || !connectedState(s.record.State) {
		m.mu.RUnlock()
		return false
	}

	last := s.record.LastHeartbeat
	m.mu.RUnlock()

	if m.clock.Now().Sub(last) > time.Duration(m.config.HeartbeatTimeout) {
		return false
	}

	return m.clocks != nil && m.clocks.Valid(deviceID)
}

// RefreshHealth re-evaluates a device's health immediately, outside the
// periodic check. The synchronizer's invalidation callback lands here.
func (m *Manager) RefreshHealth(deviceID string) {
	m.mu.RLock()
	s, ok := m.sessions[deviceID]
	m.mu.RUnlock()

	if ok {
		m.checkHealth(s)
	}
}

func connectedState(state models.ConnectionState) bool {
	switch state {
	case models.StateConnected, models.StateStreaming, models.StateIdle:
		return true
	default:
		return false
	}
}

// releaseSession removes a finished session, commits its final state, and
// promotes the highest-priority waiter into the freed slot.
func (m *Manager) releaseSession(s *session, finalState models.ConnectionState, cause error) {
	m.transition(s, finalState, cause)

	m.mu.Lock()

	if current, ok := m.sessions[s.record.DeviceID]; ok && current == s {
		delete(m.sessions, s.record.DeviceID)
	}

	var next *models.DeviceRecord

	if !m.closed && len(m.waiting) > 0 && len(m.sessions) < m.config.MaxDevices {
		next = m.waiting[0]
		m.waiting = m.waiting[1:]
		m.startSessionLocked(next, nil)
	}

	m.mu.Unlock()

	m.publish(events.DeviceDetached, s.record.DeviceID, "")

	close(s.done)
}

// transition moves the record to a new state, persists it, and emits the
// state event. The write happens before the caller regains control.
func (m *Manager) transition(s *session, state models.ConnectionState, cause error) {
	m.mu.Lock()

	s.record.State = state
	s.record.LastSeen = m.clock.Now()

	if cause != nil {
		s.record.LastError = cause.Error()
	}

	if state == models.StateConnected {
		s.record.ConnectCount++
		s.record.LastHeartbeat = m.clock.Now()
		s.record.Stale = false
	}

	rec := *s.record
	m.mu.Unlock()

	m.persist(&rec)
	m.publish(events.DeviceState, rec.DeviceID, string(state))
}

// persist writes a record, retrying once. Device record loss is surfaced in
// the log rather than failing the transition.
func (m *Manager) persist(rec *models.DeviceRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		m.logger.Error().Err(err).Str("device_id", rec.DeviceID).Msg("Failed to marshal device record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	key := recordKeyPrefix + rec.DeviceID

	if err := m.store.Put(ctx, key, data); err != nil {
		if err := m.store.Put(ctx, key, data); err != nil {
			m.logger.Error().Err(err).Str("device_id", rec.DeviceID).Msg("Failed to persist device record after retry")
		}
	}
}

func (m *Manager) loadOrCreateRecord(ctx context.Context, key string, desc Descriptor) (*models.DeviceRecord, error) {
	data, found, err := m.store.Get(ctx, recordKeyPrefix+key)
	if err != nil {
		return nil, err
	}

	if found {
		var rec models.DeviceRecord
		if err := json.Unmarshal(data, &rec); err == nil {
			rec.Priority = desc.Priority
			rec.AutoReconnect = desc.AutoReconnect
			rec.Address = desc.Address

			return &rec, nil
		}
	}

	now := m.clock.Now()

	return &models.DeviceRecord{
		DeviceID:      key,
		Name:          desc.Name,
		Address:       desc.Address,
		Transport:     desc.Transport,
		State:         models.StateUnknown,
		Priority:      desc.Priority,
		AutoReconnect: desc.AutoReconnect,
		FirstSeen:     now,
		LastSeen:      now,
	}, nil
}

func (m *Manager) loadRecords(ctx context.Context) ([]*models.DeviceRecord, error) {
	keys, err := m.store.Keys(ctx, recordKeyPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]*models.DeviceRecord, 0, len(keys))

	for _, key := range keys {
		data, found, err := m.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}

		var rec models.DeviceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Skipping unreadable device record")
			continue
		}

		records = append(records, &rec)
	}

	return records, nil
}

func (m *Manager) publish(eventType events.EventType, deviceID, message string) {
	if m.bus == nil {
		return
	}

	m.bus.Publish(events.Event{
		Type:      eventType,
		DeviceID:  deviceID,
		Message:   message,
		Timestamp: m.clock.Now(),
	})
}
