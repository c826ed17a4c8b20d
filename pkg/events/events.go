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

// Package events is the channel the core publishes structured status events
// on. UI collaborators subscribe here; the core itself has no UI imports.
package events

import (
	"sync"
	"time"

	"github.com/recsync/recsync/pkg/logger"
)

// EventType labels a structured coordinator event.
type EventType string

const (
	DeviceAttached   EventType = "device_attached"
	DeviceDetached   EventType = "device_detached"
	DeviceState      EventType = "device_state"
	DeviceHealth     EventType = "device_health"
	ClockInvalidated EventType = "clock_invalidated"
	SessionStarted   EventType = "session_started"
	SessionCompleted EventType = "session_completed"
	SessionFailed    EventType = "session_failed"
	StatusText       EventType = "status_text"
)

// Event is one status update from the core.
type Event struct {
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out to subscribers. Publishing never blocks the core: a
// subscriber whose buffer is full misses the event and a warning is logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger logger.Logger
}

// NewBus creates an event bus.
func NewBus(log logger.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: log,
	}
}

// Subscribe registers a listener. The returned cancel function removes the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.logger != nil {
				b.logger.Warn().
					Int("subscriber", id).
					Str("event", string(event.Type)).
					Msg("Subscriber buffer full, dropping event")
			}
		}
	}
}
