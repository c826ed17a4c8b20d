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

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recsync/recsync/pkg/logger"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	ch1, cancel1 := bus.Subscribe(4)
	defer cancel1()

	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(Event{Type: DeviceAttached, DeviceID: "cam-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, DeviceAttached, ev.Type)
			assert.Equal(t, "cam-1", ev.DeviceID)
			assert.False(t, ev.Timestamp.IsZero(), "timestamp is stamped on publish")
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	ch, cancel := bus.Subscribe(1)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent; a publish after cancel reaches nobody.
	cancel()
	bus.Publish(Event{Type: DeviceDetached, DeviceID: "cam-1"})
}

func TestBusFullBufferDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)

		bus.Publish(Event{Type: StatusText, Message: "first"})
		bus.Publish(Event{Type: StatusText, Message: "second"})
		bus.Publish(Event{Type: StatusText, Message: "third"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	ev := <-ch
	assert.Equal(t, "first", ev.Message)

	select {
	case extra := <-ch:
		t.Fatalf("expected overflow events dropped, got %q", extra.Message)
	default:
	}
}

func TestBusPreservesExplicitTimestamp(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: SessionStarted, SessionID: "abc", Timestamp: stamp})

	ev := <-ch
	require.True(t, stamp.Equal(ev.Timestamp))
	assert.Equal(t, "abc", ev.SessionID)
}

func TestBusDefaultBuffer(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	ch, cancel := bus.Subscribe(0)
	defer cancel()

	assert.Equal(t, 16, cap(ch))
}
